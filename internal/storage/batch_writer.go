package storage

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/acme-corp/seed-loader/internal/ingestion"
	"github.com/acme-corp/seed-loader/internal/metrics"
	"github.com/acme-corp/seed-loader/internal/pool"
)

// BatchWriteItemAPI is the slice of the DynamoDB client the writer needs.
type BatchWriteItemAPI interface {
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

var _ BatchWriteItemAPI = (*dynamodb.Client)(nil)

// BatchWriter puts batches of seeds into one table with BatchWriteItem.
// Calls that fail because the table is not ready yet are retried on the
// RetryPolicy schedule; any other failure is returned straight away.
type BatchWriter struct {
	client  BatchWriteItemAPI
	table   string
	policy  RetryPolicy
	params  *pool.Pool[*dynamodb.BatchWriteItemInput]
	logger  logrus.FieldLogger
	metrics *metrics.Collector
}

func NewBatchWriter(client BatchWriteItemAPI, table string, policy RetryPolicy, logger logrus.FieldLogger) *BatchWriter {
	return &BatchWriter{
		client:  client,
		table:   table,
		policy:  policy,
		params:  newParamPool(),
		logger:  logger.WithField("table", table),
		metrics: metrics.NewCollector(),
	}
}

// SetMetrics replaces the writer's metrics collector.
func (w *BatchWriter) SetMetrics(c *metrics.Collector) {
	w.metrics = c
}

// ParamPool exposes the pool of request objects, one of which is held per
// in-flight write.
func (w *BatchWriter) ParamPool() *pool.Pool[*dynamodb.BatchWriteItemInput] {
	return w.params
}

func (w *BatchWriter) Write(ctx context.Context, batch *ingestion.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	if batch.Len() > MaxChunk {
		return errors.Errorf("batch %d of %s holds %d seeds, limit is %d",
			batch.SeqNum, batch.Source, batch.Len(), MaxChunk)
	}

	input := w.params.Get()
	defer w.params.Put(input)

	requests := input.RequestItems[w.table]
	for _, seed := range batch.Seeds {
		item, err := attributevalue.MarshalMap(seed)
		if err != nil {
			return &WriteError{Table: w.table, Source: batch.Source, SeqNum: batch.SeqNum,
				Err: errors.Wrap(err, "marshalling seed")}
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}
	input.RequestItems[w.table] = requests

	logger := w.logger.WithFields(logrus.Fields{
		"source": batch.Source,
		"batch":  batch.SeqNum,
		"seeds":  batch.Len(),
	})

	attempts := 0
	start := time.Now()
	op := func() error {
		attempts++
		w.metrics.WriteAttempt()

		out, err := w.client.BatchWriteItem(ctx, input)
		if err != nil {
			if IsResourceNotReady(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if out != nil {
			if left := out.UnprocessedItems[w.table]; len(left) > 0 {
				input.RequestItems[w.table] = append(input.RequestItems[w.table][:0], left...)
				return errors.Wrapf(ErrUnprocessedItems, "%d of %d", len(left), batch.Len())
			}
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		w.metrics.Retry()
		msg := "table not ready, retrying batch write"
		if errors.Is(err, ErrUnprocessedItems) {
			msg = "items left unprocessed, resubmitting"
		}
		logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempts,
			"wait":    wait,
		}).Warn(msg)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(w.policy.NewBackOff(), ctx), notify)
	w.metrics.TrackStageDuration("write", time.Since(start))
	if err != nil {
		w.metrics.RecordFailed(int64(batch.Len()))
		logger.WithError(err).WithField("attempts", attempts).Error("batch write failed")
		return &WriteError{
			Table:    w.table,
			Source:   batch.Source,
			SeqNum:   batch.SeqNum,
			Attempts: attempts,
			Err:      err,
		}
	}

	w.metrics.BatchWritten()
	w.metrics.RecordWritten(int64(batch.Len()))
	logger.WithField("attempts", attempts).Debug("batch written")
	return nil
}

func newParamPool() *pool.Pool[*dynamodb.BatchWriteItemInput] {
	return pool.New(
		func() *dynamodb.BatchWriteItemInput {
			return &dynamodb.BatchWriteItemInput{
				RequestItems: make(map[string][]types.WriteRequest, 1),
			}
		},
		func(in *dynamodb.BatchWriteItemInput) {
			for table, reqs := range in.RequestItems {
				for i := range reqs {
					reqs[i] = types.WriteRequest{}
				}
				in.RequestItems[table] = reqs[:0]
			}
			in.ReturnConsumedCapacity = ""
			in.ReturnItemCollectionMetrics = ""
		},
	)
}
