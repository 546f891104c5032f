package main

import (
	"github.com/cockroachdb/errors"

	"warden/infra/config"
	"warden/infra/kafka"
	"warden/jobs/broadcaster"
)

func newPublisher(cfg config.BroadcastConfig) (broadcaster.Publisher, error) {
	switch cfg.Driver {
	case "kafka-go":
		return kafka.NewProducer(cfg.Brokers, cfg.Topic), nil
	case "sarama", "":
		p, err := broadcaster.NewSaramaProducer(cfg.Brokers)
		if err != nil {
			return nil, err
		}
		return broadcaster.NewSaramaPublisher(p, cfg.Topic), nil
	default:
		return nil, errors.Newf("unknown broadcast driver %q", cfg.Driver)
	}
}
