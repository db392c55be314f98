/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package guard

import (
	"fmt"
	"os"
	"strconv"

	"github.com/srediag/handle-guard/api"
)

const (
	// DefaultClosedQueueCapacity bounds the number of closed-but-not-freed
	// entities kept around for use-after-close detection.
	DefaultClosedQueueCapacity = 1024

	// DefaultLeakBudget bounds the bytes of raw data kept protected but not
	// reclaimed across all handles of one session.
	DefaultLeakBudget = 10 << 20
)

// Config describes one debug session. Configure before NewSession and treat
// as immutable afterwards.
type Config struct {
	// Name labels the session in logs, events, and the registry. Empty
	// means the registry assigns a generated ID.
	Name string

	// ClosedQueueCapacity is the maximum number of closed entities retained
	// before the oldest is freed. Larger values detect use-after-close
	// further back in time at the cost of memory.
	ClosedQueueCapacity int

	// LeakBudget is the maximum number of bytes of protected raw data
	// retained at any time. When an attach pushes the running total past
	// the budget, the protect step at close reclaims immediately instead
	// of retaining.
	LeakBudget int

	// CheckUnderlyingTag enables the best-effort assertion that non-null
	// underlying handles carry tag bit 1. Only valid for host systems that
	// guarantee the encoding; the process env HANDLEGUARD_CHECK_UNDERLYING
	// also enables it.
	CheckUnderlyingTag bool

	// Protector revokes access to raw data copies. Nil selects the
	// strongest backend available on this platform.
	Protector api.Protector

	// OnInvalidAccess is invoked on every usage fault. Nil installs the
	// default handler, which logs and panics with the *UsageFault. The
	// handler must not call back into the session.
	OnInvalidAccess func(*UsageFault)

	// OnCloseCheck, when set, is invoked by CloseAndCheck against the
	// underlying value before the close proceeds. A non-nil error is
	// reported as a usage fault; the close still happens.
	OnCloseCheck func(Underlying) error
}

// DefaultConfig returns the recommended session configuration.
func DefaultConfig() *Config {
	return &Config{
		ClosedQueueCapacity: DefaultClosedQueueCapacity,
		LeakBudget:          DefaultLeakBudget,
		CheckUnderlyingTag:  envCheckUnderlying,
	}
}

// VerifyConfig checks conf for values the session cannot operate with.
func VerifyConfig(conf *Config) error {
	if conf == nil {
		return fmt.Errorf("config is nil")
	}
	if conf.ClosedQueueCapacity < 0 {
		return fmt.Errorf("closed queue capacity %d is negative", conf.ClosedQueueCapacity)
	}
	if conf.LeakBudget < 0 {
		return fmt.Errorf("leak budget %d is negative", conf.LeakBudget)
	}
	return nil
}

var envCheckUnderlying bool

func init() {
	if v := os.Getenv("HANDLEGUARD_CHECK_UNDERLYING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			envCheckUnderlying = b
		} else {
			envCheckUnderlying = true
		}
	}
}
