// Copyright 2023-2026 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http11

import "fmt"

// Stage is where a processor is within the current exchange.
type Stage int32

const (
	StageParse Stage = iota
	StagePrepare
	StageService
	StageEndInput
	StageEndOutput
	StageKeepAlive
	StageEnded
)

func (s Stage) String() string {
	switch s {
	case StageParse:
		return "PARSE"
	case StagePrepare:
		return "PREPARE"
	case StageService:
		return "SERVICE"
	case StageEndInput:
		return "ENDINPUT"
	case StageEndOutput:
		return "ENDOUTPUT"
	case StageKeepAlive:
		return "KEEPALIVE"
	case StageEnded:
		return "ENDED"
	default:
		return fmt.Sprintf("Stage(%d)", int32(s))
	}
}
