package actions

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"alertcore/internal/model"
)

type capture struct {
	subject string
	data    []byte
	err     error
}

func (c *capture) Publish(subject string, data []byte) error {
	c.subject = subject
	c.data = data
	return c.err
}

func TestPublisherDispatcher(t *testing.T) {
	pub := &capture{}
	d := NewPublisherDispatcher(pub, "alertcore.actions")
	trigger := &model.Trigger{TenantID: "acme", ID: "trg", Name: "Host down", Severity: model.SeverityHigh}
	alert := model.NewAlert("a1", trigger, nil, 100)

	require.NoError(t, d.Send(context.Background(), trigger, alert))
	require.Equal(t, "alertcore.actions.acme", pub.subject)

	var m Message
	require.NoError(t, json.Unmarshal(pub.data, &m))
	require.Equal(t, "a1", m.AlertID)
	require.Equal(t, "Host down", m.TriggerName)
	require.Equal(t, model.StatusOpen, m.Status)
	require.Equal(t, int64(100), m.STime)
}

func TestMultiJoinsErrors(t *testing.T) {
	failing := NewPublisherDispatcher(&capture{err: errors.New("no responders")}, "s")
	ok := &capture{}
	m := Multi{LogDispatcher{}, failing, NewPublisherDispatcher(ok, "s")}
	alert := model.NewAlert("a1", &model.Trigger{TenantID: "acme", ID: "trg"}, nil, 1)

	err := m.Send(context.Background(), nil, alert)
	require.ErrorContains(t, err, "no responders")
	require.Equal(t, "s.acme", ok.subject)
}
