// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import "github.com/go-lpc/roc/card"

// fakeControl is a minimal card.Control double, in the same
// fake-device style engine's own tests use, just for exercising the
// shell's command dispatch against an internally-sourced channel.
type fakeControl struct{}

var _ card.Control = fakeControl{}

func (fakeControl) InitDiuVersion() (card.DiuConfig, error)               { return card.DiuConfig{}, nil }
func (fakeControl) ArmDdl(card.ResetLevel, card.DiuConfig) error          { return nil }
func (fakeControl) ResetCommand(card.ResetLevel, card.DiuConfig) error    { return nil }
func (fakeControl) SetLoopbackOff() error                                 { return nil }
func (fakeControl) SetLoopbackOn() error                                  { return nil }
func (fakeControl) SetDiuLoopback(card.DiuConfig) error                   { return nil }
func (fakeControl) SetSiuLoopback(card.DiuConfig) error                   { return nil }
func (fakeControl) AssertLinkUp() error                                   { return nil }
func (fakeControl) SiuCommand(uint32) error                               { return nil }
func (fakeControl) DiuCommand(uint32) error                               { return nil }
func (fakeControl) StartDataReceiver(uintptr) error                       { return nil }
func (fakeControl) StopDataReceiver() error                               { return nil }
func (fakeControl) ArmDataGenerator(uint32) error                         { return nil }
func (fakeControl) StartDataGenerator() error                             { return nil }
func (fakeControl) StopDataGenerator() error                              { return nil }
func (fakeControl) StartTrigger(card.DiuConfig, card.TriggerCommand) error { return nil }
func (fakeControl) StopTrigger(card.DiuConfig) error                      { return nil }
func (fakeControl) PushRxFreeFifo(uintptr, uint32, int) error             { return nil }
func (fakeControl) AssertFreeFifoEmpty() error                            { return nil }
