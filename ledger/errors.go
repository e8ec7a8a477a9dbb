package ledger

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeTransactionNotFound = "TRANSACTION_NOT_FOUND"
	TextCodeAlreadyProcessed    = "TRANSACTION_ALREADY_PROCESSED"
	TextCodeInvalidTransition   = "INVALID_TRANSACTION_TRANSITION"
	TextCodeInvalidAmount       = "INVALID_PAYMENT_AMOUNT"
	TextCodeStudentNotFound     = "STUDENT_NOT_FOUND"
	TextCodeForeignStudent      = "FOREIGN_STUDENT"
	TextCodeInvalidPeriod       = "INVALID_PERIOD"
)

// ErrTransactionNotFound no row with the given id
var ErrTransactionNotFound = goerrors.New("Transaction not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound).
	WithTextCode(TextCodeTransactionNotFound)

// ErrAlreadyProcessed the conditional update matched no pending row
var ErrAlreadyProcessed = goerrors.New("Transaction not found or already processed", goerrors.CategoryConflict).
	WithCode(goerrors.CodeConflict).
	WithTextCode(TextCodeAlreadyProcessed)

// ErrInvalidTransition target status is not reachable from pending
var ErrInvalidTransition = goerrors.New("invalid transaction state transition", goerrors.CategoryValidation).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode(TextCodeInvalidTransition)

// ErrInvalidAmount payments must be a positive multiple of the weekly unit
var ErrInvalidAmount = goerrors.New("Amount must be a positive multiple of 5000", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode(TextCodeInvalidAmount)

// ErrStudentNotFound the id does not belong to a student
var ErrStudentNotFound = goerrors.New("Student not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound).
	WithTextCode(TextCodeStudentNotFound)

// ErrForeignStudent a student acting on somebody else's ledger
var ErrForeignStudent = goerrors.New("Unauthorized", goerrors.CategoryAuthz).
	WithCode(goerrors.CodeForbidden).
	WithTextCode(TextCodeForeignStudent)

// ErrInvalidPeriod year or month out of range
var ErrInvalidPeriod = goerrors.New("Year and month are required", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode(TextCodeInvalidPeriod)

// ErrUserNotFound the owner of a new transaction does not exist
var ErrUserNotFound = goerrors.New("User not found", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode("USER_NOT_FOUND")

// ErrCronUnauthorized missing or wrong cron secret
var ErrCronUnauthorized = goerrors.New("Unauthorized", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode("CRON_UNAUTHORIZED")
