package mesh

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Publisher publishes registration results and progress to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	logger        *zap.Logger
	qos           byte
	retain        bool
	results       map[string]AlignmentResult
	mu            sync.RWMutex
}

// NewPublisher creates a new result publisher.
// If client is nil, publishing is disabled (for testing).
func NewPublisher(client mqtt.Client, prefix string, logger *zap.Logger) *Publisher {
	if prefix == "" {
		prefix = "meshicp"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		logger:        logger,
		qos:           0,    // fire and forget
		retain:        true, // Retain for latest result
		results:       make(map[string]AlignmentResult),
	}
}

// PublishResult stores a finished registration and publishes it to
// <prefix>/registrations/<name> and the combined <prefix>/registrations topic
func (p *Publisher) PublishResult(name string, result AlignmentResult) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	result.Name = name
	if result.Timestamp == 0 {
		result.Timestamp = time.Now().Unix()
	}

	p.mu.Lock()
	p.results[name] = result
	p.mu.Unlock()

	topic := fmt.Sprintf("%s/registrations/%s", p.publishPrefix, name)
	if err := p.publish(topic, p.retain, result); err != nil {
		p.logger.Error("publishing result", zap.String("name", name), zap.Error(err))
		return err
	}
	p.logger.Info("published registration",
		zap.String("name", name),
		zap.String("state", string(result.State)),
		zap.Float64("error", result.Error))

	if err := p.publishCombined(); err != nil {
		p.logger.Error("publishing combined results", zap.Error(err))
		return err
	}
	return nil
}

// publishCombined publishes the latest result of every registration
func (p *Publisher) publishCombined() error {
	p.mu.RLock()
	results := make([]AlignmentResult, 0, len(p.results))
	for _, r := range p.results {
		results = append(results, r)
	}
	p.mu.RUnlock()

	if len(results) == 0 {
		return nil
	}

	message := map[string]interface{}{
		"registrations": results,
		"timestamp":     time.Now().Unix(),
	}
	return p.publish(p.publishPrefix+"/registrations", p.retain, message)
}

// PublishProgress publishes one history entry to <prefix>/progress/<name>.
// Progress is never retained.
func (p *Publisher) PublishProgress(name string, rec IterationRecord) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	return p.publish(fmt.Sprintf("%s/progress/%s", p.publishPrefix, name), false, rec)
}

// ProgressObserver returns an Observer that publishes every record for name.
// Publish failures are logged and do not interrupt the registration.
func (p *Publisher) ProgressObserver(name string) Observer {
	return func(rec IterationRecord) {
		if err := p.PublishProgress(name, rec); err != nil {
			p.logger.Debug("progress not published", zap.String("name", name), zap.Int("step", rec.Step), zap.Error(err))
		}
	}
}

func (p *Publisher) publish(topic string, retain bool, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// GetResult returns the last published result for a registration
func (p *Publisher) GetResult(name string) (AlignmentResult, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.results[name]
	return r, ok
}

// GetAllResults returns a copy of all published results
func (p *Publisher) GetAllResults() map[string]AlignmentResult {
	p.mu.RLock()
	defer p.mu.RUnlock()

	results := make(map[string]AlignmentResult, len(p.results))
	for name, r := range p.results {
		results[name] = r
	}
	return results
}

// ClearResult forgets a registration
func (p *Publisher) ClearResult(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.results, name)
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether result messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
