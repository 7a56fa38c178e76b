package opsserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/arbbot/goarb/internal/engine"
)

var log = logrus.WithField("module", "opsserver")

// StatusProvider 状态快照提供方（由 engine.Engine 实现）
type StatusProvider interface {
	Snapshot() engine.Status
}

// Server 运维状态 HTTP 接口。只读，建议只监听 localhost。
type Server struct {
	addr      string
	provider  StatusProvider
	startedAt time.Time
}

// New 创建状态服务
func New(addr string, provider StatusProvider) *Server {
	return &Server{addr: addr, provider: provider, startedAt: time.Now()}
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"uptime": time.Since(s.startedAt).String(),
			"engine": s.provider.Snapshot(),
		})
	})
	return r
}

// Run 启动服务并在 ctx 取消时优雅关闭
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("状态接口监听 %s", s.addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
