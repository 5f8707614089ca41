package handler

import (
	dErrors "vcrelay/pkg/domain-errors"
)

// StatusB2CRequest is the body of the B2C claims exchange poll.
type StatusB2CRequest struct {
	ID string `json:"id"`
}

func (r *StatusB2CRequest) Validate() error {
	if r.ID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "Missing argument 'id'")
	}
	return nil
}
