// Package services defines the shared error taxonomy and context tags used by
// every deeplinker component.
//
// Key responsibilities:
//   - Sentinel markers (ErrValidation, ErrNotFound, ErrBusy, ...) plus the Wrap
//     helper that attaches component and operation detail while keeping the
//     marker matchable with errors.Is.
//   - HTTPStatus, which maps those markers onto API response codes.
//   - Context helpers that stamp media tokens, stage names, job IDs and
//     correlation identifiers for structured logging.
package services
