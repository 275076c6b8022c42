package events

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "AgentFleet/internal/errors"
)

const defaultQueue = "agentfleet.events"

// RabbitMQPublisher 将事件投递到 RabbitMQ 的持久化队列。
type RabbitMQPublisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// OpenRabbitMQ 建立连接并声明队列。
func OpenRabbitMQ(url, queue string) (*RabbitMQPublisher, error) {
	if url == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	if queue == "" {
		queue = defaultQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePublishFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodePublishFailure, err, "创建 RabbitMQ channel 失败")
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodePublishFailure, err, "声明 RabbitMQ 队列失败")
	}
	return &RabbitMQPublisher{conn: conn, ch: ch, queue: queue}, nil
}

// Publish 以 JSON 持久化消息投递事件。amqp channel 不支持并发发布，因此加锁。
func (p *RabbitMQPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := event.encode()
	if err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "序列化事件失败")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return xerrors.New(xerrors.CodePublishFailure, "RabbitMQ 发布器已关闭")
	}
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Body:         payload,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "RabbitMQ 发布事件失败")
	}
	return nil
}

// Close 关闭 channel 与连接。
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	chErr := p.ch.Close()
	connErr := p.conn.Close()
	p.ch = nil
	return errors.Join(chErr, connErr)
}
