package worker

import (
	"strings"
	"time"

	"taskhooks/internal"
)

// SubscriberConfigFromWatermill derives the subscriber side of the dispatch
// configuration. Publish-only drivers (http, riverqueue) are dropped.
func SubscriberConfigFromWatermill(cfg internal.WatermillConfig) SubscriberConfig {
	sub := SubscriberConfig{
		GoChannel: cfg.GoChannel,
		Kafka:     cfg.Kafka,
		NATS:      NATSConfig{NATSConfig: cfg.NATS},
		AMQP:      cfg.AMQP,
		SQL:       cfg.SQL,
	}
	drivers := cfg.Drivers
	if len(drivers) == 0 && cfg.Driver != "" {
		drivers = []string{cfg.Driver}
	}
	for _, driver := range uniqueStrings(drivers) {
		if isSubscriberDriverSupported(driver) {
			sub.Drivers = append(sub.Drivers, driver)
		}
	}
	if len(sub.Drivers) == 1 {
		sub.Driver = sub.Drivers[0]
		sub.Drivers = nil
	}
	applySubscriberDefaults(&sub)
	return sub
}

// Enabled reports whether any subscriber driver is configured.
func (c SubscriberConfig) Enabled() bool {
	return c.Driver != "" || len(c.Drivers) > 0
}

// TopicsFromRules lists the distinct topics rules emit to.
func TopicsFromRules(rules []internal.Rule) []string {
	topics := make([]string, 0, len(rules))
	seen := make(map[string]struct{}, len(rules))
	for _, rule := range rules {
		for _, topic := range rule.Emit {
			topic = strings.TrimSpace(topic)
			if topic == "" {
				continue
			}
			if _, ok := seen[topic]; ok {
				continue
			}
			seen[topic] = struct{}{}
			topics = append(topics, topic)
		}
	}
	return topics
}

func applySubscriberDefaults(cfg *SubscriberConfig) {
	if cfg.GoChannel.OutputChannelBuffer == 0 {
		cfg.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.NATS.ClientIDSuffix == "" {
		cfg.NATS.ClientIDSuffix = "-worker"
	}
	if cfg.BuildAttempts == 0 {
		cfg.BuildAttempts = 10
	}
	if cfg.BuildDelay == 0 {
		cfg.BuildDelay = 2 * time.Second
	}
}
