package coordinator

import "errors"

var (
	ErrRoundNotStarted      = errors.New("training rounds have not started")
	ErrAlreadyStarted       = errors.New("training rounds already started")
	ErrInsufficientClients  = errors.New("not enough registered clients to start")
	ErrUnknownTimeoutPolicy = errors.New("unknown round timeout policy")
	ErrInvalidConfig        = errors.New("invalid coordinator configuration")
)
