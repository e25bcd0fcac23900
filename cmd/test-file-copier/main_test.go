package main

import (
	"context"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/copier"
	appErrors "github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/pkg/errors"
)

type fakeRunner struct {
	failRuns map[string]error
}

func (f *fakeRunner) ParseJob(body string) (*copier.CopyJob, error) {
	if body == "not json" {
		return nil, appErrors.NewValidation("invalid copy job message")
	}
	return &copier.CopyJob{TestRunID: body}, nil
}

func (f *fakeRunner) Run(_ context.Context, job *copier.CopyJob) (*copier.Result, error) {
	if err := f.failRuns[job.TestRunID]; err != nil {
		return nil, err
	}
	return &copier.Result{}, nil
}

func TestHandleReportsMalformedMessagesAsFailures(t *testing.T) {
	h := &handler{copier: &fakeRunner{}, logger: zap.NewNop()}

	response, err := h.handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "msg-1", Body: "not json"},
		{MessageId: "msg-2", Body: "run-2"},
	}})
	require.NoError(t, err)

	// the malformed message must ride the retry path to the DLQ, the
	// valid one succeeds
	require.Len(t, response.BatchItemFailures, 1)
	assert.Equal(t, "msg-1", response.BatchItemFailures[0].ItemIdentifier)
}

func TestHandleReportsFailedJobs(t *testing.T) {
	runner := &fakeRunner{failRuns: map[string]error{
		"run-1": appErrors.NewInternal("copy failed", nil),
	}}
	h := &handler{copier: runner, logger: zap.NewNop()}

	response, err := h.handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "msg-1", Body: "run-1"},
		{MessageId: "msg-2", Body: "run-2"},
	}})
	require.NoError(t, err)

	require.Len(t, response.BatchItemFailures, 1)
	assert.Equal(t, "msg-1", response.BatchItemFailures[0].ItemIdentifier)
}
