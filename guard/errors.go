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

import "errors"

var (
	// ErrSessionDestroyed means an operation ran against a torn-down session.
	ErrSessionDestroyed = errors.New("session was destroyed")

	// ErrSessionExisted means a session with the same name is already registered.
	ErrSessionExisted = errors.New("session name already registered")

	// ErrSessionNotFound means the registry holds no session under the given ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrRawDataCopy wraps protector failures while copying raw data.
	ErrRawDataCopy = errors.New("raw data copy failed")
)
