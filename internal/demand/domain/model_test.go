package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionTable(t *testing.T) {
	all := []DemandStatus{
		DemandStatusPending,
		DemandStatusInProgress,
		DemandStatusInApproval,
		DemandStatusCompleted,
		DemandStatusCanceled,
	}
	allowed := map[[2]DemandStatus]bool{
		{DemandStatusPending, DemandStatusInProgress}:    true,
		{DemandStatusPending, DemandStatusCanceled}:      true,
		{DemandStatusInProgress, DemandStatusInApproval}: true,
		{DemandStatusInProgress, DemandStatusCanceled}:   true,
		{DemandStatusInApproval, DemandStatusCompleted}:  true,
		{DemandStatusInApproval, DemandStatusCanceled}:   true,
	}

	for _, from := range all {
		for _, to := range all {
			d := Demand{Status: from}
			err := d.TransitionTo(to)
			if allowed[[2]DemandStatus{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, d.Status)
				continue
			}
			assert.ErrorIs(t, err, ErrInvalidStateTransition, "%s -> %s", from, to)
			assert.Equal(t, from, d.Status)
		}
	}
}

func TestCompletePendingIsRejected(t *testing.T) {
	d := Demand{Status: DemandStatusPending}
	assert.ErrorIs(t, d.TransitionTo(DemandStatusCompleted), ErrInvalidStateTransition)
	assert.Equal(t, DemandStatusPending, d.Status)
}

func TestEditable(t *testing.T) {
	assert.True(t, (&Demand{Status: DemandStatusPending}).Editable())
	assert.True(t, (&Demand{Status: DemandStatusInProgress}).Editable())
	assert.False(t, (&Demand{Status: DemandStatusInApproval}).Editable())
	assert.False(t, (&Demand{Status: DemandStatusInProgress, Billed: true}).Editable())
	assert.True(t, (&Demand{Status: DemandStatusCanceled}).IsTerminal())
}
