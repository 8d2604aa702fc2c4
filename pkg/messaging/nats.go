// pkg/messaging/nats.go
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	"QuantSync/pkg/config"
	"QuantSync/pkg/logger"
)

// NATSClient NATS JetStream客户端 - 任务队列
type NATSClient struct {
	conn      *nats.Conn
	jetStream jetstream.JetStream
	cfg       config.NATSConfig
	ctx       context.Context
	cancel    context.CancelFunc
	consumers map[string]jetstream.Consumer // 消费者管理
	mu        sync.RWMutex                  // 保护consumers
	wg        sync.WaitGroup
	logger    *logrus.Entry
}

// Delivery 一条待处理的消息
type Delivery struct {
	Subject      string
	Data         []byte
	NumDelivered uint64
}

// MessageHandler 返回 nil 时确认消息，否则消息将被重新投递
type MessageHandler func(ctx context.Context, d Delivery) error

// NewNATSClient 创建新的NATS客户端并确保任务流存在
func NewNATSClient(cfg config.NATSConfig) (*NATSClient, error) {
	log := logger.WithComponent("nats")

	// 连接NATS
	nc, err := nats.Connect(cfg.URL,
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1), // 无限重连
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("NATS连接断开")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS重新连接成功")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("连接NATS失败: %w", err)
	}

	// 创建JetStream上下文
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("创建JetStream失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	client := &NATSClient{
		conn:      nc,
		jetStream: js,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		consumers: make(map[string]jetstream.Consumer),
		logger:    log,
	}

	if err := client.setupStreams(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// setupStreams 任务流使用 WorkQueue 保留策略，确认后即删除
func (c *NATSClient) setupStreams() error {
	streamConfig := jetstream.StreamConfig{
		Name:        c.cfg.Stream,
		Subjects:    []string{c.cfg.SubjectPrefix + ".>"},
		Description: "数据同步任务队列",
		Retention:   jetstream.WorkQueuePolicy,
		Storage:     jetstream.FileStorage,
		MaxAge:      7 * 24 * time.Hour, // 保留7天
		Duplicates:  10 * time.Minute,   // 按消息ID去重
	}

	_, err := c.jetStream.CreateOrUpdateStream(c.ctx, streamConfig)
	if err != nil {
		return fmt.Errorf("创建/更新Stream %s 失败: %w", streamConfig.Name, err)
	}
	c.logger.WithField("stream", streamConfig.Name).Info("Stream 设置成功")
	return nil
}

// Subject 队列对应的主题
func (c *NATSClient) Subject(queue, kind string) string {
	return fmt.Sprintf("%s.%s.%s", c.cfg.SubjectPrefix, queue, kind)
}

// Publish 发布消息，msgID 用于服务端去重
func (c *NATSClient) Publish(ctx context.Context, subject, msgID string, payload []byte) error {
	opts := []jetstream.PublishOpt{}
	if msgID != "" {
		opts = append(opts, jetstream.WithMsgID(msgID))
	}
	if _, err := c.jetStream.Publish(ctx, subject, payload, opts...); err != nil {
		return fmt.Errorf("发布消息到 %s 失败: %w", subject, err)
	}
	c.logger.WithFields(logrus.Fields{
		"subject": subject,
		"bytes":   len(payload),
	}).Debug("发布消息")
	return nil
}

// Subscribe 以 concurrency 个并发处理某个队列的消息，未确认消息数不超过并发数
func (c *NATSClient) Subscribe(consumerName, filterSubject string, concurrency int, handler MessageHandler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	// 创建消费者配置
	consumerConfig := jetstream.ConsumerConfig{
		Durable:       consumerName,
		Description:   fmt.Sprintf("%s 消费者", consumerName),
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.cfg.AckWait,
		MaxAckPending: concurrency,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	// 创建或获取消费者
	consumer, err := c.jetStream.CreateOrUpdateConsumer(c.ctx, c.cfg.Stream, consumerConfig)
	if err != nil {
		return fmt.Errorf("创建消费者 %s 失败: %w", consumerName, err)
	}

	// 保存消费者引用
	c.mu.Lock()
	c.consumers[consumerName] = consumer
	c.mu.Unlock()

	// 开始消费消息
	c.wg.Add(1)
	go c.consumeMessages(consumer, consumerName, concurrency, handler)

	c.logger.WithFields(logrus.Fields{
		"subject":     filterSubject,
		"consumer":    consumerName,
		"concurrency": concurrency,
	}).Info("已订阅")
	return nil
}

// consumeMessages 单个迭代器拉取，分发给固定数量的处理协程
func (c *NATSClient) consumeMessages(consumer jetstream.Consumer, consumerName string, concurrency int, handler MessageHandler) {
	defer c.wg.Done()
	log := c.logger.WithField("consumer", consumerName)

	iter, err := consumer.Messages(jetstream.PullMaxMessages(concurrency))
	if err != nil {
		log.WithError(err).Error("获取消息迭代器失败")
		return
	}
	go func() {
		<-c.ctx.Done()
		iter.Stop()
	}()

	msgs := make(chan jetstream.Msg)
	var workers sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for msg := range msgs {
				c.handle(log, msg, handler)
			}
		}()
	}
	defer func() {
		close(msgs)
		workers.Wait()
	}()

	for {
		msg, err := iter.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) || c.ctx.Err() != nil {
				log.Info("消费者收到停止信号")
				return
			}
			log.WithError(err).Warn("获取消息失败")
			time.Sleep(1 * time.Second)
			continue
		}
		msgs <- msg
	}
}

func (c *NATSClient) handle(log *logrus.Entry, msg jetstream.Msg, handler MessageHandler) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("处理消息异常")
			_ = msg.Nak()
		}
	}()

	d := Delivery{Subject: msg.Subject(), Data: msg.Data()}
	if meta, err := msg.Metadata(); err == nil {
		d.NumDelivered = meta.NumDelivered
	}

	if err := handler(c.ctx, d); err != nil {
		log.WithError(err).WithField("subject", d.Subject).Warn("处理消息失败，等待重新投递")
		_ = msg.NakWithDelay(5 * time.Second) // 拒绝消息
		return
	}
	if err := msg.Ack(); err != nil { // 确认消息
		log.WithError(err).Warn("确认消息失败")
	}
}

// DeleteConsumer 删除消费者
func (c *NATSClient) DeleteConsumer(consumerName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.jetStream.DeleteConsumer(c.ctx, c.cfg.Stream, consumerName); err != nil {
		return fmt.Errorf("删除消费者 %s 失败: %w", consumerName, err)
	}

	delete(c.consumers, consumerName)
	c.logger.WithField("consumer", consumerName).Info("消费者已删除")
	return nil
}

// StreamInfo 获取任务流信息
func (c *NATSClient) StreamInfo(ctx context.Context) (*jetstream.StreamInfo, error) {
	stream, err := c.jetStream.Stream(ctx, c.cfg.Stream)
	if err != nil {
		return nil, fmt.Errorf("获取Stream %s 失败: %w", c.cfg.Stream, err)
	}
	return stream.Info(ctx)
}

// Close 停止消费并关闭连接
func (c *NATSClient) Close() error {
	c.logger.Info("正在关闭NATS连接...")

	c.cancel() // 取消所有上下文
	c.wg.Wait()

	c.mu.Lock()
	c.consumers = make(map[string]jetstream.Consumer)
	c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}

	c.logger.Info("NATS连接已关闭")
	return nil
}

// IsConnected 检查连接状态
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

