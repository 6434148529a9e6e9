package remote

import "strings"

type finish int

const (
	// finishNone means the stream continues.
	finishNone finish = iota
	// finishDone covers a stop sequence or an exhausted token budget.
	finishDone
	// finishAbnormal is any other reason, such as a content filter.
	finishAbnormal
)

func classifyFinish(reason string) finish {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "":
		return finishNone
	case "stop", "length", "max_tokens":
		return finishDone
	default:
		return finishAbnormal
	}
}
