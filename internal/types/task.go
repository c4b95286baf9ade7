package types

import (
	"strconv"

	"github.com/go-openapi/errors"
	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/swag"
	"github.com/go-openapi/validate"
)

const (
	addressPattern     = `^0x[0-9a-fA-F]{40}$`
	minIntervalSeconds = 10
)

var taskActions = []interface{}{"rebalance", "migrate", "sweep"}

// PostTaskPayload creates a rebalance task.
type PostTaskPayload struct {
	// Smart account the task drives
	// Required: true
	// Pattern: ^0x[0-9a-fA-F]{40}$
	Account *string `json:"account"`

	// Token routed between checking and yield
	// Required: true
	// Pattern: ^0x[0-9a-fA-F]{40}$
	Token *string `json:"token"`

	// Polling interval in seconds
	// Required: true
	// Minimum: 10
	IntervalSeconds *int64 `json:"intervalSeconds"`

	// Required: true
	// Enum: [rebalance migrate sweep]
	Action *string `json:"action"`

	// Create the task disabled
	Paused *bool `json:"paused,omitempty"`
}

func (m *PostTaskPayload) Validate(formats strfmt.Registry) error {
	var res []error

	if err := validateAddress("account", m.Account); err != nil {
		res = append(res, err)
	}
	if err := validateAddress("token", m.Token); err != nil {
		res = append(res, err)
	}

	if err := validate.Required("intervalSeconds", "body", m.IntervalSeconds); err != nil {
		res = append(res, err)
	} else if err := validate.MinimumInt("intervalSeconds", "body", *m.IntervalSeconds, minIntervalSeconds, false); err != nil {
		res = append(res, err)
	}

	if err := validate.Required("action", "body", m.Action); err != nil {
		res = append(res, err)
	} else if err := validate.EnumCase("action", "body", *m.Action, taskActions, true); err != nil {
		res = append(res, err)
	}

	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

func validateAddress(name string, v *string) error {
	if err := validate.Required(name, "body", v); err != nil {
		return err
	}
	if err := validate.Pattern(name, "body", *v, addressPattern); err != nil {
		return err
	}
	return nil
}

// Task is the public view of a scheduled rebalance task.
type Task struct {
	// Required: true
	// Format: uuid4
	ID *strfmt.UUID4 `json:"id"`

	// Required: true
	Account *string `json:"account"`

	// Required: true
	Token *string `json:"token"`

	// Required: true
	IntervalSeconds *int64 `json:"intervalSeconds"`

	// Required: true
	Action *string `json:"action"`

	// Required: true
	Enabled *bool `json:"enabled"`

	// Format: date-time
	LastRunAt *strfmt.DateTime `json:"lastRunAt,omitempty"`

	// Required: true
	// Format: date-time
	NextRunAt *strfmt.DateTime `json:"nextRunAt"`

	// Required: true
	ConsecutiveErrors *int64 `json:"consecutiveErrors"`

	LastError string `json:"lastError,omitempty"`

	// Hash of the last operation submitted by the task
	LastOperationHash string `json:"lastOperationHash,omitempty"`
}

func (m *Task) Validate(formats strfmt.Registry) error {
	var res []error

	if err := validate.Required("id", "body", m.ID); err != nil {
		res = append(res, err)
	} else if err := validate.FormatOf("id", "body", "uuid4", m.ID.String(), formats); err != nil {
		res = append(res, err)
	}

	for name, v := range map[string]interface{}{
		"account":           m.Account,
		"token":             m.Token,
		"intervalSeconds":   m.IntervalSeconds,
		"action":            m.Action,
		"enabled":           m.Enabled,
		"nextRunAt":         m.NextRunAt,
		"consecutiveErrors": m.ConsecutiveErrors,
	} {
		if err := validate.Required(name, "body", v); err != nil {
			res = append(res, err)
		}
	}

	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

type GetTasksResponse struct {
	// Required: true
	Data []*Task `json:"data"`
}

func (m *GetTasksResponse) Validate(formats strfmt.Registry) error {
	if err := validate.Required("data", "body", m.Data); err != nil {
		return err
	}

	var res []error
	for i, t := range m.Data {
		if swag.IsZero(t) {
			continue
		}
		if err := t.Validate(formats); err != nil {
			if ce, ok := err.(*errors.CompositeError); ok { //nolint:errorlint
				res = append(res, ce.ValidateName("data"+"."+strconv.Itoa(i)))
				continue
			}
			res = append(res, err)
		}
	}

	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// TaskIDParam binds the :id path parameter.
type TaskIDParam struct {
	// Required: true
	// Format: uuid4
	ID string `param:"id"`
}

func (m *TaskIDParam) Validate(formats strfmt.Registry) error {
	if err := validate.RequiredString("id", "path", m.ID); err != nil {
		return err
	}
	if err := validate.FormatOf("id", "path", "uuid4", m.ID, formats); err != nil {
		return err
	}
	return nil
}
