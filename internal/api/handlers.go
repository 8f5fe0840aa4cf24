package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/roach88/knock/internal/engine"
	"github.com/roach88/knock/internal/market"
)

type submitRequest struct {
	Receiver  string `json:"receiver" binding:"required"`
	Bid       string `json:"bid" binding:"required"`
	ContentID string `json:"content_id"`
}

type slotsRequest struct {
	DailySlots int `json:"daily_slots"`
}

type registerRequest struct {
	Participant string `json:"participant" binding:"required"`
}

func (s *Server) currentDay(c *gin.Context) {
	day := s.engine.CurrentDay()
	c.JSON(http.StatusOK, gin.H{
		"day":  day,
		"date": day.String(),
		"now":  s.engine.Now(),
	})
}

// submitKnock files a knock from the caller.
func (s *Server) submitKnock(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	bid, err := market.ParseEther(req.Bid)
	if err != nil {
		s.badRequest(c, err.Error())
		return
	}
	k, err := s.engine.SubmitKnock(c.Request.Context(), engine.SubmitRequest{
		Sender:    c.GetHeader(CallerHeader),
		Receiver:  req.Receiver,
		Bid:       bid,
		ContentID: req.ContentID,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, k)
}

func (s *Server) getKnock(c *gin.Context) {
	id, ok := s.knockID(c)
	if !ok {
		return
	}
	k, err := s.engine.Knock(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, k)
}

func (s *Server) knockTransfers(c *gin.Context) {
	id, ok := s.knockID(c)
	if !ok {
		return
	}
	transfers, err := s.engine.Transfers(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"knock_id": id, "transfers": transfers})
}

func (s *Server) acceptKnock(c *gin.Context) {
	s.dispose(c, s.engine.Accept)
}

func (s *Server) rejectKnock(c *gin.Context) {
	s.dispose(c, s.engine.Reject)
}

func (s *Server) expireKnock(c *gin.Context) {
	s.dispose(c, s.engine.ClaimExpired)
}

func (s *Server) dispose(c *gin.Context, fn func(ctx context.Context, caller string, id int64) (engine.Disposition, error)) {
	id, ok := s.knockID(c)
	if !ok {
		return
	}
	d, err := fn(c.Request.Context(), c.GetHeader(CallerHeader), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) pendingKnocks(c *gin.Context) {
	knocks, err := s.engine.PendingKnocks(c.Request.Context(), c.Param("sender"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sender": c.Param("sender"), "knocks": knocks})
}

func (s *Server) unpaidRefunds(c *gin.Context) {
	refunds, err := s.engine.UnpaidRefunds(c.Request.Context(), c.Query("sender"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"refunds": refunds})
}

func (s *Server) retryRefund(c *gin.Context) {
	id, ok := s.knockID(c)
	if !ok {
		return
	}
	p, err := s.engine.RetryRefund(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// setDailySlots configures the caller's own slots.
func (s *Server) setDailySlots(c *gin.Context) {
	var req slotsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	st, err := s.engine.SetDailySlots(c.Request.Context(), c.GetHeader(CallerHeader), req.DailySlots)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) getSettings(c *gin.Context) {
	st, err := s.engine.Settings(c.Request.Context(), c.Param("receiver"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) getStats(c *gin.Context) {
	st, err := s.engine.Stats(c.Request.Context(), c.Param("receiver"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) settledQueue(c *gin.Context) {
	knocks, err := s.engine.SettledKnocks(c.Request.Context(), c.Param("receiver"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"receiver": c.Param("receiver"), "knocks": knocks})
}

// settle settles yesterday, or the day given by ?day=.
func (s *Server) settle(c *gin.Context) {
	ctx := c.Request.Context()
	receiver := c.Param("receiver")

	var (
		res engine.SettleResult
		err error
	)
	if raw, ok := c.GetQuery("day"); ok {
		day, perr := parseDay(raw)
		if perr != nil {
			s.badRequest(c, perr.Error())
			return
		}
		res, err = s.engine.SettleDay(ctx, receiver, day)
	} else {
		res, err = s.engine.Settle(ctx, receiver)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) dayBucket(c *gin.Context) {
	day, err := parseDay(c.Param("day"))
	if err != nil {
		s.badRequest(c, err.Error())
		return
	}
	bucket, err := s.engine.DayBucket(c.Request.Context(), c.Param("receiver"), day)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"receiver": c.Param("receiver"), "day": day, "entries": bucket})
}

func (s *Server) daySettlement(c *gin.Context) {
	day, err := parseDay(c.Param("day"))
	if err != nil {
		s.badRequest(c, err.Error())
		return
	}
	ds, err := s.engine.DaySettlement(c.Request.Context(), c.Param("receiver"), day)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ds)
}

func (s *Server) getBalance(c *gin.Context) {
	account := c.Param("account")
	b, err := s.engine.Balance(c.Request.Context(), account)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account, "wei": b, "ether": market.FormatEther(b)})
}

// listEvents pages through the event log by seq.
func (s *Server) listEvents(c *gin.Context) {
	after, err := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil || after < 0 {
		s.badRequest(c, "after must be a non-negative integer")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		s.badRequest(c, "limit must be a non-negative integer")
		return
	}
	events, err := s.engine.Events(c.Request.Context(), after, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) registerProfile(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	p, err := s.profiles.Register(c.Request.Context(), req.Participant)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) getProfile(c *gin.Context) {
	p, err := s.profiles.Profile(c.Request.Context(), c.Param("participant"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) banProfile(c *gin.Context) {
	s.setBan(c, s.profiles.Ban)
}

func (s *Server) unbanProfile(c *gin.Context) {
	s.setBan(c, s.profiles.Unban)
}

func (s *Server) setBan(c *gin.Context, fn func(ctx context.Context, participant string) error) {
	participant := c.Param("participant")
	if err := fn(c.Request.Context(), participant); err != nil {
		s.fail(c, err)
		return
	}
	p, err := s.profiles.Profile(c.Request.Context(), participant)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) knockID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		s.badRequest(c, "knock id must be a positive integer")
		return 0, false
	}
	return id, true
}

func parseDay(raw string) (market.Day, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return market.Day(n), nil
}
