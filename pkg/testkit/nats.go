package testkit

import (
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"

	"QuantSync/pkg/config"
)

// RunJetStream 启动内嵌的 JetStream 服务，测试结束后关闭
func RunJetStream(t testing.TB) config.NATSConfig {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	return config.NATSConfig{
		URL:           srv.ClientURL(),
		Stream:        "QUANT_JOBS_TEST",
		SubjectPrefix: "quant.jobs",
		AckWait:       30 * time.Second,
	}
}
