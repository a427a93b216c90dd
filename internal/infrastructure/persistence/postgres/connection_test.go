package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnection_ClosedFailsReadiness(t *testing.T) {
	conn := &Connection{closed: true}

	_, err := conn.Health(context.Background())
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.ErrorIs(t, conn.Check(context.Background()), ErrConnectionClosed)
}
