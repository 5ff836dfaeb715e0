// Package http wires the relay's HTTP surface: the websocket signaling
// endpoint and the bookkeeping REST calls.
package http

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/adapters/signal"
	"github.com/dkeye/Call/internal/config"
	"github.com/dkeye/Call/internal/domain"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type startCallRequest struct {
	CalleeID       string `json:"calleeId" binding:"required"`
	Type           string `json:"type" binding:"required"`
	ConversationID string `json:"conversationId"`
}

func SetupRouter(cfg *config.Config, relay *signal.RelayController, records *CallRecordStore) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("CallSessions", store))
	r.Use(ClientTokenMiddleware())

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("user", c.GetString("client_token")).Msg("ws signal endpoint hit")
		relay.HandleSignal(c)
	})

	api.POST("/user", func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing username"})
			return
		}
		user, err := domain.NewUser(req.Username)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, user)
	})

	api.POST("/call/start", func(c *gin.Context) {
		var req startCallRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing calleeId or type"})
			return
		}
		t := domain.CallType(req.Type)
		if !t.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "type must be voice or video"})
			return
		}
		caller := domain.UserID(c.GetString("client_token"))
		call := records.Start(caller, domain.UserID(req.CalleeID), t, domain.ConversationID(req.ConversationID))
		c.JSON(http.StatusOK, call)
	})

	api.POST("/call/:id/end", func(c *gin.Context) {
		call, ok := records.End(domain.CallID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown call"})
			return
		}
		c.JSON(http.StatusOK, call)
	})

	api.GET("/monitor", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"connected": relay.Connected(),
			"records":   records.Len(),
		})
	})

	return r
}
