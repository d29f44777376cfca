package model

import "errors"

// 信号校验错误
var (
	ErrSignalTarget = errors.New("signal missing target id")
	ErrSignalSymbol = errors.New("signal missing symbol")
	ErrSignalAction = errors.New("signal action must be long, short or exit")
	ErrSignalVolume = errors.New("signal volume must not be negative")
)
