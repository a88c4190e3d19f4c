package main

import (
	"context"

	"go.uber.org/zap"
)

type Consumer interface {
	Consume(ctx context.Context, qids ...string) error
}

type archiveConsumer struct {
	logger  *zap.Logger
	queue   Queuer
	archive ArchiveStorage
}

func NewArchiveConsumer(logger *zap.Logger, q Queuer, archive ArchiveStorage) Consumer {
	return &archiveConsumer{logger, q, archive}
}

// Consume moves history entries from the queues into the archive until ctx is done.
func (ac *archiveConsumer) Consume(ctx context.Context, qids ...string) error {
	for {
		qid, entry, err := ac.queue.Pop(ctx, qids...)
		if err != nil && ctx.Err() != nil {
			ac.logger.Info("consumer: queue pop call: context is done: exit", zap.String("reason", ctx.Err().Error()))
			return nil
		}

		if err != nil {
			ac.logger.Error("consumer: error on queue pop call", zap.Error(err))
			continue
		}

		switch qid {
		case ActivityQueue:
			if err = ac.archive.Save(ctx, entry); err != nil {
				ac.logger.Error("consumer: failed to archive", zap.Any("entry", entry), zap.Error(err))
			}
		default:
			ac.logger.Warn("consumer: received entry on unknow queue id", zap.String("qid", qid), zap.Any("entry", entry))
		}
	}
}
