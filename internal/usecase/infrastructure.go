package usecase

import "context"

type MessageProducer interface {
	WriteRawMessage(ctx context.Context, req *WriteRawMessageReq) error
}

// ProgressReporter учитывает завершение одной единицы работы фазы матчинга
// и сообщает, опубликовал ли этот вызов сигнал о завершении фазы.
type ProgressReporter interface {
	OnIncrement(ctx context.Context, jobID, kind, eventPrefix string) (bool, error)
}
