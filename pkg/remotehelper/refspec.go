package remotehelper

import "strings"

// PushSpec is one parsed "push [+]<src>:<dst>" line. An empty Src means
// delete Dst; Force comes from an optional leading '+'.
type PushSpec struct {
	Src   string
	Dst   string
	Force bool
}

// ParsePushSpec parses the argument after the "push " prefix: an
// optional leading '+', then "src:dst", or (for delete) ":dst" /
// "dst" with no colon at all, which names Dst with no Src.
func ParsePushSpec(raw string) PushSpec {
	var spec PushSpec

	if strings.HasPrefix(raw, "+") {
		spec.Force = true
		raw = raw[1:]
	}

	if idx := strings.IndexByte(raw, ':'); idx >= 0 {
		spec.Src = raw[:idx]
		spec.Dst = raw[idx+1:]
	} else {
		spec.Dst = raw
	}

	return spec
}
