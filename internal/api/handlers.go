package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lpsugar/internal/sugar"
)

const defaultLimit = 100

type errorBody struct {
	Error string `json:"error"`
}

type deploymentBody struct {
	Registry string `json:"registry"`
	Voter    string `json:"voter"`
	Router   string `json:"router"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleDeployment(c *gin.Context) {
	c.JSON(http.StatusOK, deploymentBody{
		Registry: s.sugar.Registry().Hex(),
		Voter:    s.sugar.Voter().Hex(),
		Router:   s.sugar.Router().Hex(),
	})
}

func (s *Server) handlePool(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		s.fail(c, fmt.Errorf("%w: index must be an integer", sugar.ErrInvalidArgument))
		return
	}
	filter, err := sugar.ParseOptionalAddress(c.Query("filter"))
	if err != nil {
		s.fail(c, err)
		return
	}

	pool, err := s.sugar.ByIndex(c.Request.Context(), index, filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pool)
}

func (s *Server) handlePools(c *gin.Context) {
	limit, offset, err := pageParams(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	filter, err := sugar.ParseOptionalAddress(c.Query("filter"))
	if err != nil {
		s.fail(c, err)
		return
	}

	pools, err := s.sugar.All(c.Request.Context(), limit, offset, filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pools)
}

func (s *Server) handleSwaps(c *gin.Context) {
	limit, offset, err := pageParams(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	swaps, err := s.sugar.ForSwaps(c.Request.Context(), limit, offset)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, swaps)
}

func (s *Server) handleTokens(c *gin.Context) {
	limit, offset, err := pageParams(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	account, err := sugar.ParseOptionalAddress(c.Query("account"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ignored, err := sugar.ParseAddresses(splitList(c.QueryArray("ignore")))
	if err != nil {
		s.fail(c, err)
		return
	}

	tokens, err := s.sugar.Tokens(c.Request.Context(), limit, offset, account, sugar.NewAddressSet(ignored...))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

func (s *Server) handleEpochsByAddress(c *gin.Context) {
	limit, offset, err := pageParams(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	lp, err := sugar.ParseAddress(c.Param("address"))
	if err != nil {
		s.fail(c, err)
		return
	}

	epochs, err := s.sugar.EpochsByAddress(c.Request.Context(), limit, offset, lp)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, epochs)
}

func (s *Server) handleEpochsLatest(c *gin.Context) {
	limit, offset, err := pageParams(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	epochs, err := s.sugar.EpochsLatest(c.Request.Context(), limit, offset)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, epochs)
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sugar.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, sugar.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sugar.ErrUpstreamUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func pageParams(c *gin.Context) (int, int, error) {
	limit, err := intQuery(c, "limit", defaultLimit)
	if err != nil {
		return 0, 0, err
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func intQuery(c *gin.Context, key string, fallback int) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", sugar.ErrInvalidArgument, key)
	}
	return v, nil
}

// splitList accepts both repeated and comma-separated query values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, strings.Split(v, ",")...)
	}
	return out
}
