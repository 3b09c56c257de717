package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	http_server "OmniSearch/api/http"
	"OmniSearch/internal/config"
	"OmniSearch/internal/initial"
	"OmniSearch/pkg/redis"
	"OmniSearch/pkg/zlog"
)

func main() {
	// 1. 加载配置
	conf := config.GetConfig()
	host := conf.MainConfig.Host
	port := conf.MainConfig.Port

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. 启动任务消费 worker（Kafka 未配置时入库走同步路径，无 worker）
	workers := conf.KafkaConfig.Workers
	if workers <= 0 {
		workers = 1
	}
	if initial.Worker != nil {
		for i := 0; i < workers; i++ {
			go func() {
				if err := initial.Worker.Run(ctx); err != nil && ctx.Err() == nil {
					zlog.Error("job worker exited: " + err.Error())
				}
			}()
		}
	}

	// 3. 启动 HTTP 服务
	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		zlog.Info(fmt.Sprintf("服务器正在启动，监听地址: %s", addr))
		// 目前使用 HTTP 启动。如果需要 HTTPS，请配置证书并使用 GE.RunTLS
		if err := http_server.GE.Run(addr); err != nil {
			zlog.Fatal("服务器启动失败: " + err.Error())
			return
		}
	}()

	// 4. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("正在关闭服务器...")
	cancel()
	if initial.Consumer != nil {
		_ = initial.Consumer.Close()
	}
	if initial.Publisher != nil {
		_ = initial.Publisher.Close()
	}
	_ = redis.Close()
	zlog.Sync()

	zlog.Info("服务器已关闭")
}
