package http

import (
	"net/http"
	"strings"
	"time"

	"OmniSearch/internal/modules/search/application/service"
	"OmniSearch/pkg/ws"
	"OmniSearch/pkg/zlog"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// JobWsHandler 任务进度 WebSocket 推送 Handler
type JobWsHandler struct {
	hub    *ws.Hub
	jobSvc service.JobService
}

func NewJobWsHandler(hub *ws.Hub, jobSvc service.JobService) *JobWsHandler {
	return &JobWsHandler{hub: hub, jobSvc: jobSvc}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Connect 建立任务进度订阅连接
//
// 路由: GET /batch/jobs/ws?job_id=xxx
// job_id 为空时订阅全部任务事件（topic "*"）。
// 浏览器原生 WebSocket 不支持自定义 Header，所以不走鉴权中间件，
// 任务事件只包含进度元信息，不含文档内容。
func (h *JobWsHandler) Connect(c *gin.Context) {
	topic := strings.TrimSpace(c.Query("job_id"))
	if topic == "" {
		topic = "*"
	}

	// 订阅具体任务时先推一次当前快照，避免客户端错过已发生的状态迁移
	var snapshot interface{}
	if topic != "*" {
		if job, err := h.jobSvc.GetStatus(c.Request.Context(), topic); err == nil {
			snapshot = job
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zlog.Error(err.Error())
		return
	}

	client := ws.NewClient(topic, conn)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	if snapshot != nil {
		_ = conn.WriteJSON(snapshot)
	}

	conn.SetReadLimit(4 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	go client.WritePump()

	// 只收不处理，连接断开即退出
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
