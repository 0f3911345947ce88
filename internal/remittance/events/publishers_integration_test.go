//go:build integration

package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"remittance/internal/platform/kafka"
	"remittance/internal/remittance/events"
	id "remittance/pkg/domain"
	"remittance/pkg/testutil/containers"
)

var (
	sender    = id.MustParseAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	recipient = id.MustParseAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
)

type PublishersSuite struct {
	suite.Suite
	redis    *containers.RedisContainer
	redpanda *containers.RedpandaContainer
}

func TestPublishersSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PublishersSuite))
}

func (s *PublishersSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.redpanda = mgr.GetRedpanda(s.T())
}

func sentEvent() events.Event {
	event := events.New(events.KindSent, sender, sender, time.Now().UTC().Truncate(time.Millisecond)).WithRecipient(recipient)
	event.Amount = 1000
	event.RequestID = "req-42"
	return event
}

func (s *PublishersSuite) TestKafkaPublisherProducesKeyedRecord() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := kafka.Config{Brokers: s.redpanda.Brokers, ClientID: "publisher-test", Topic: "remittance.events.test"}
	producer, err := kafka.NewClient(ctx, cfg)
	s.Require().NoError(err)
	defer producer.Close()
	s.Require().NoError(kafka.EnsureTopic(ctx, producer, cfg))
	s.Require().NoError(kafka.EnsureTopic(ctx, producer, cfg), "existing topic is not an error")

	event := sentEvent()
	s.Require().NoError(events.NewKafkaPublisher(producer, cfg.Topic).Publish(ctx, event))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	var record *kgo.Record
	for record == nil && ctx.Err() == nil {
		fetches := consumer.PollFetches(ctx)
		s.Require().Empty(fetches.Errors())
		fetches.EachRecord(func(r *kgo.Record) {
			if string(r.Key) == event.ID.String() {
				record = r
			}
		})
	}
	s.Require().NotNil(record, "record not consumed")

	headers := map[string]string{}
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	s.Equal(string(events.KindSent), headers[events.HeaderEventType])
	s.Equal(string(events.CategoryCompliance), headers[events.HeaderCategory])

	decoded, err := events.Decode(record.Value)
	s.Require().NoError(err)
	s.Equal(event.ID, decoded.ID)
	s.Equal(uint64(1000), decoded.Amount)
	s.Require().NotNil(decoded.Recipient)
	s.Equal(recipient, *decoded.Recipient)
}

func (s *PublishersSuite) TestRedisPublisherBroadcasts() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub := s.redis.Subscribe(ctx, s.T(), events.DefaultRedisChannel)
	event := sentEvent()
	s.Require().NoError(events.NewRedisPublisher(s.redis.Client, "").Publish(ctx, event))

	msg, err := sub.ReceiveMessage(ctx)
	s.Require().NoError(err)
	decoded, err := events.Decode([]byte(msg.Payload))
	s.Require().NoError(err)
	s.Equal(event.ID, decoded.ID)
	s.Equal(events.KindSent, decoded.Kind)
	s.Equal("req-42", decoded.RequestID)
}
