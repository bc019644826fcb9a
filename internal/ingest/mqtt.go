package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-telemetry/internal/models"
	"github.com/ukydev/fleet-telemetry/internal/telemetry"
)

// DefaultTopic matches fleet/<vehicleId>/<kind>.
const DefaultTopic = "fleet/+/+"

var errStopped = errors.New("subscriber stopped")

// Recorder ingests one reading.
type Recorder interface {
	RecordReading(ctx context.Context, reading models.Reading) (*telemetry.IngestionResult, error)
}

// NewClientOptions returns paho options for a device-telemetry consumer.
func NewClientOptions(broker, clientID string) *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("MQTT connection lost")
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			log.WithField("broker", broker).Info("MQTT connected")
		})
}

// Subscriber consumes readings published by devices and feeds them to the
// engine through a fixed pool of workers.
type Subscriber struct {
	client   mqtt.Client
	topic    string
	recorder Recorder
	workers  int
	timeout  time.Duration

	mu      sync.Mutex
	jobs    chan mqtt.Message
	stopped bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewSubscriber creates a subscriber. workers below one is treated as one.
func NewSubscriber(client mqtt.Client, topic string, recorder Recorder, workers int) *Subscriber {
	if topic == "" {
		topic = DefaultTopic
	}
	if workers < 1 {
		workers = 1
	}
	return &Subscriber{
		client:   client,
		topic:    topic,
		recorder: recorder,
		workers:  workers,
		timeout:  10 * time.Second,
		jobs:     make(chan mqtt.Message, workers*16),
	}
}

// Start launches the workers and subscribes to the topic.
func (s *Subscriber) Start(ctx context.Context) error {
	s.startWorkers(ctx)
	token := s.client.Subscribe(s.topic, 1, s.onMessage)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("subscribe %s: timed out", s.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.topic, err)
	}
	log.WithFields(log.Fields{"topic": s.topic, "workers": s.workers}).Info("Subscribed to device telemetry")
	return nil
}

// startWorkers runs the pool on a context that ignores ctx's cancellation,
// so Stop can still drain the queue after shutdown has begun.
func (s *Subscriber) startWorkers(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for msg := range s.jobs {
				if err := s.handle(ctx, msg); err != nil {
					log.WithFields(log.Fields{"topic": msg.Topic(), "error": err}).Warn("Dropped device reading")
				}
			}
		}()
	}
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := s.enqueue(msg); err != nil {
		log.WithField("topic", msg.Topic()).Debug("Message after stop ignored")
	}
}

func (s *Subscriber) enqueue(msg mqtt.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errStopped
	}
	s.jobs <- msg
	return nil
}

// Stop unsubscribes, drains queued messages and waits for the workers.
// Readings still queued after the drain timeout are cancelled.
func (s *Subscriber) Stop() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Unsubscribe(s.topic).WaitTimeout(s.timeout)
	}
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.jobs)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.timeout):
		log.WithField("timeout", s.timeout).Warn("MQTT drain timed out, cancelling queued readings")
		s.cancelWorkers()
		<-done
	}
	s.cancelWorkers()
}

func (s *Subscriber) cancelWorkers() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Subscriber) handle(ctx context.Context, msg mqtt.Message) error {
	vehicleID, kind, err := ParseTopic(msg.Topic())
	if err != nil {
		return err
	}

	var reading models.Reading
	if err := json.Unmarshal(msg.Payload(), &reading); err != nil {
		return fmt.Errorf("%w: invalid JSON payload: %v", telemetry.ErrValidation, err)
	}
	if reading.VehicleID != "" && reading.VehicleID != vehicleID {
		return fmt.Errorf("%w: payload vehicle %s does not match topic", telemetry.ErrValidation, reading.VehicleID)
	}
	if reading.Kind != "" && reading.Kind != kind {
		return fmt.Errorf("%w: payload kind %s does not match topic", telemetry.ErrValidation, reading.Kind)
	}
	reading.VehicleID = vehicleID
	reading.Kind = kind

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	result, err := s.recorder.RecordReading(ctx, reading)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"ingestion_id": result.IngestionID,
		"vehicle_id":   vehicleID,
		"alerts":       result.AlertsGenerated,
	}).Debug("Device reading ingested")
	return nil
}

// ParseTopic splits fleet/<vehicleId>/<kind>.
func ParseTopic(topic string) (string, models.ReadingKind, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "fleet" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: unexpected topic %q", telemetry.ErrValidation, topic)
	}
	kind := models.ReadingKind(parts[2])
	if !models.IsValidReadingKind(kind) {
		return "", "", fmt.Errorf("%w: unsupported reading kind %q", telemetry.ErrValidation, parts[2])
	}
	return parts[1], kind, nil
}
