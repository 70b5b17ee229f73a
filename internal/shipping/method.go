package shipping

import "fmt"

// Method selects how shipping is priced.
type Method string

const (
	// MethodStandard is the house courier: flat fee, free above a threshold.
	MethodStandard Method = "standard"
	// MethodCarrier prices through the external carrier's rate API.
	MethodCarrier Method = "carrier"
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodStandard, MethodCarrier:
		return m, nil
	case "":
		return MethodStandard, nil
	default:
		return "", fmt.Errorf("unknown shipping method %q", s)
	}
}
