package domain

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
)

func TestValidateRequiresExactlyOneRecipient(t *testing.T) {
	clientID := snowflake.ID(10)
	userID := snowflake.ID(20)
	zero := snowflake.ID(0)

	cases := []struct {
		name    string
		client  *snowflake.ID
		user    *snowflake.ID
		wantErr error
	}{
		{name: "client only", client: &clientID},
		{name: "user only", user: &userID},
		{name: "both", client: &clientID, user: &userID, wantErr: ErrInvalidRecipient},
		{name: "neither", wantErr: ErrInvalidRecipient},
		{name: "zero client", client: &zero, wantErr: ErrInvalidRecipient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := Notification{ClientID: tc.client, UserID: tc.user, Type: TypeDemandApproved, Title: "Approved"}
			err := n.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestValidateRequiresTitleAndType(t *testing.T) {
	clientID := snowflake.ID(10)
	n := Notification{ClientID: &clientID, Title: "x"}
	assert.ErrorIs(t, n.Validate(), ErrInvalidType)

	n = Notification{ClientID: &clientID, Type: TypeTicketOpened, Title: "  "}
	assert.ErrorIs(t, n.Validate(), ErrInvalidTitle)
}
