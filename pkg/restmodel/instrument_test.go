package restmodel_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restmodel-io/restmodel/pkg/restmodel"
)

func TestSubscriberReceivesEvents(t *testing.T) {
	t.Parallel()

	class, registry := newTestClass(t, "EventThing", "event_thing")
	registry.On("GET", "/event_things/1.json").
		Respond(200, []byte(`{"event_thing":{"id":1}}`), nil)

	var events []*restmodel.RequestEvent

	class.Subscribe(func(event *restmodel.RequestEvent) {
		events = append(events, event)
	})

	_, err := class.Find(context.Background(), 1, nil)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, "GET", events[0].Method)
	assert.Contains(t, events[0].RequestURI, "/event_things/1.json")
	require.NotNil(t, events[0].Result)
	assert.Equal(t, 200, events[0].Result.StatusCode)
}

func TestPrometheusCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := restmodel.NewPrometheusCollector(reg)

	class, registry := newTestClass(t, "MetricThing", "metric_thing")
	registry.On("GET", "/metric_things/1.json").
		Respond(200, []byte(`{"metric_thing":{"id":1}}`), nil)
	registry.On("GET", "/metric_things/2.json").Respond(404, nil, nil)

	class.Subscribe(collector.Handle)

	ctx := context.Background()

	_, err := class.Find(ctx, 1, nil)
	require.NoError(t, err)

	_, err = class.Find(ctx, 2, nil)
	require.Error(t, err)

	// Two series: one per status label.
	assert.Equal(t, 2, testutil.CollectAndCount(collector, "restmodel_requests_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(collector, "restmodel_request_duration_seconds"))
}

func TestLogSubscriber(t *testing.T) {
	t.Parallel()

	class, registry := newTestClass(t, "LoggedThing", "logged_thing")
	registry.On("GET", "/logged_things/1.json").
		Respond(200, []byte(`{"logged_thing":{"id":1}}`), nil)

	logged := &capturingLogger{}
	class.Subscribe(restmodel.LogSubscriber(logged))

	_, err := class.Find(context.Background(), 1, nil)
	require.NoError(t, err)

	require.Len(t, logged.infos, 1)
	assert.Equal(t, "request completed", logged.infos[0])
}

type capturingLogger struct {
	infos []string
	warns []string
}

func (l *capturingLogger) Debug(string, map[string]interface{}) {}

func (l *capturingLogger) Info(msg string, _ map[string]interface{}) {
	l.infos = append(l.infos, msg)
}

func (l *capturingLogger) Warn(msg string, _ map[string]interface{}) {
	l.warns = append(l.warns, msg)
}

func (l *capturingLogger) Error(string, map[string]interface{}) {}
