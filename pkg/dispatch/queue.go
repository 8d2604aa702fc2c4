package dispatch

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"QuantSync/pkg/database"
	"QuantSync/pkg/errs"
	"QuantSync/pkg/logger"
	"QuantSync/pkg/messaging"
)

// Broker 持久化消息队列，由 messaging.NATSClient 实现
type Broker interface {
	Subject(queue, kind string) string
	Publish(ctx context.Context, subject, msgID string, payload []byte) error
	Subscribe(consumerName, filterSubject string, concurrency int, handler messaging.MessageHandler) error
}

// BrokerQueue 发布到消息队列，任务ID作为消息ID去重
type BrokerQueue struct {
	broker Broker
}

func NewBrokerQueue(broker Broker) *BrokerQueue {
	return &BrokerQueue{broker: broker}
}

func (q *BrokerQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := job.Encode()
	if err != nil {
		return errs.Wrap(errs.CodeDispatch, "序列化任务失败", err)
	}
	subject := q.broker.Subject(job.Kind.Queue(), string(job.Kind))
	return q.broker.Publish(ctx, subject, job.ID, data)
}

// QueueDispatcher 通过消息队列分发，由独立的 worker 进程消费
type QueueDispatcher struct {
	*Engine
}

func NewQueueDispatcher(jobs *database.JobDB, broker Broker, maxAttempts int) *QueueDispatcher {
	return &QueueDispatcher{Engine: NewEngine(jobs, NewBrokerQueue(broker), maxAttempts)}
}

// Serve 为每个队列注册消费者，worker 未注册任何类型的队列不消费；处理成功或任务进入终态后确认消息
func Serve(broker Broker, worker *Worker, concurrency map[string]int) error {
	log := logger.WithComponent("dispatch.consumer")
	served := make(map[string]bool)
	for _, k := range worker.Kinds() {
		served[k.Queue()] = true
	}
	for queue, n := range concurrency {
		queue := queue
		if !served[queue] {
			log.WithField("queue", queue).Warn("队列没有已注册的任务类型，跳过")
			continue
		}
		handler := func(ctx context.Context, d messaging.Delivery) error {
			job, err := DecodeJob(d.Data)
			if err != nil {
				// 无法解析的消息重投也无意义
				log.WithError(err).WithField("subject", d.Subject).Error("丢弃无效任务消息")
				return nil
			}
			if d.NumDelivered > 1 {
				log.WithFields(logrus.Fields{
					"job_id":    job.ID,
					"delivered": d.NumDelivered,
				}).Info("任务重新投递")
			}
			return worker.Process(ctx, job)
		}
		name := fmt.Sprintf("quant-worker-%s", queue)
		if err := broker.Subscribe(name, broker.Subject(queue, "*"), n, handler); err != nil {
			return err
		}
	}
	return nil
}
