// Package api exposes the read-only operator surface: pool info, per-chain
// staking supply, and a single staker-status override endpoint. It reads,
// and writes the staker status, only through the coordinators; it takes no
// lock the core path needs.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chimerapool/stakepool-coordinator/internal/coordinator"
	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
	"github.com/chimerapool/stakepool-coordinator/internal/validation"
)

// Directory resolves chain names to running coordinators.
type Directory interface {
	Lookup(chainName string) (*coordinator.Coordinator, bool)
	List() []*coordinator.Coordinator
}

// Server is the HTTP API.
type Server struct {
	router *gin.Engine
	dir    Directory
}

// NewServer builds the router. The server is ready to be passed to
// http.Server as a handler.
func NewServer(dir Directory) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.New(),
		dir:    dir,
	}

	s.router.Use(gin.Recovery(), requestID())

	s.router.GET("/info", s.handleInfo)
	s.router.GET("/currency/:chain/stakingsupply", s.handleStakingSupply)
	s.router.PUT("/currency/:chain/stakerstatus", s.handleStakerStatus)

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestID tags every response so operator reports can be correlated
// with log lines.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

type chainInfo struct {
	ChainName string                    `json:"chain_name"`
	ChainID   poolmodel.CurrencyAddress `json:"chain_id"`
}

func (s *Server) handleInfo(c *gin.Context) {
	chains := make([]chainInfo, 0)
	for _, coord := range s.dir.List() {
		chains = append(chains, chainInfo{
			ChainName: coord.ChainName(),
			ChainID:   coord.ChainID(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"chains": chains})
}

func (s *Server) handleStakingSupply(c *gin.Context) {
	coord, ok := s.dir.Lookup(validation.SanitizeInput(c.Param("chain")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown currency"})
		return
	}

	var identities []poolmodel.IdentityAddress
	for _, address := range c.QueryArray("identity_address") {
		if err := validation.ValidateIdentityAddress(address); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity_address"})
			return
		}
		identities = append(identities, poolmodel.IdentityAddress(address))
	}

	supply, err := coord.GetStakingSupply(c.Request.Context(), identities)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "node unavailable"})
		return
	}
	c.JSON(http.StatusOK, supply)
}

var settableStatuses = map[poolmodel.StakerStatus]bool{
	poolmodel.StakerStatusActive:   true,
	poolmodel.StakerStatusInactive: true,
}

func (s *Server) handleStakerStatus(c *gin.Context) {
	coord, ok := s.dir.Lookup(validation.SanitizeInput(c.Param("chain")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown currency"})
		return
	}

	address := c.Query("address")
	if err := validation.ValidateIdentityAddress(address); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}

	status := poolmodel.StakerStatus(c.Query("status"))
	if !settableStatuses[status] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be active or inactive"})
		return
	}

	if err := coord.SetStakerStatus(c.Request.Context(), poolmodel.IdentityAddress(address), status); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown staker"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": address, "status": status})
}
