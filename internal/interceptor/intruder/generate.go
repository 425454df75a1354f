package intruder

import (
	"strings"

	"github.com/int3rceptor/interceptor/errs"
)

// GeneratedRequest pairs a rendered template with the payload value(s) that
// produced it, so a Result can report which payload drove a given response
// rather than leaving the field blank.
type GeneratedRequest struct {
	Template string
	Payload  string
}

func marker(name string) string { return "§" + name + "§" }

// GenerateRequests expands template against config per its AttackType.
func GenerateRequests(template string, config Config) ([]GeneratedRequest, error) {
	switch config.AttackType {
	case AttackSniper:
		return generateSniper(template, config), nil
	case AttackBattering:
		return generateBattering(template, config), nil
	case AttackPitchfork:
		return generatePitchfork(template, config), nil
	case AttackClusterBomb:
		return generateClusterBomb(template, config), nil
	default:
		return nil, errs.New(errs.KindIntruderBadPayload, "unknown attack type: "+string(config.AttackType), nil)
	}
}

// generateSniper emits one variant per payload per position: that position
// receives the payload, every other marker is blanked.
func generateSniper(template string, config Config) []GeneratedRequest {
	var out []GeneratedRequest
	for _, payload := range config.Payloads {
		for _, position := range config.Positions {
			modified := strings.ReplaceAll(template, marker(position.Name), payload)
			for _, other := range config.Positions {
				if other.Name != position.Name {
					modified = strings.ReplaceAll(modified, marker(other.Name), "")
				}
			}
			out = append(out, GeneratedRequest{Template: modified, Payload: payload})
		}
	}
	return out
}

// generateBattering emits one variant per payload: every marker receives
// the same payload.
func generateBattering(template string, config Config) []GeneratedRequest {
	var out []GeneratedRequest
	for _, payload := range config.Payloads {
		modified := template
		for _, position := range config.Positions {
			modified = strings.ReplaceAll(modified, marker(position.Name), payload)
		}
		out = append(out, GeneratedRequest{Template: modified, Payload: payload})
	}
	return out
}

// generatePitchfork emits one request per payload: request i fills every
// marker with payloads[i], so the corpus has exactly len(payloads) entries.
func generatePitchfork(template string, config Config) []GeneratedRequest {
	var out []GeneratedRequest
	for i := range config.Payloads {
		modified := template
		payload := config.Payloads[i]
		for _, position := range config.Positions {
			modified = strings.ReplaceAll(modified, marker(position.Name), payload)
		}
		out = append(out, GeneratedRequest{Template: modified, Payload: payload})
	}
	return out
}

// generateClusterBomb emits the Cartesian product over positions, each
// independently iterating the payload set.
func generateClusterBomb(template string, config Config) []GeneratedRequest {
	positionCount := len(config.Positions)
	if positionCount == 0 || len(config.Payloads) == 0 {
		return nil
	}

	total := 1
	for i := 0; i < positionCount; i++ {
		total *= len(config.Payloads)
	}

	out := make([]GeneratedRequest, 0, total)
	for i := 0; i < total; i++ {
		modified := template
		combo := i
		used := make([]string, 0, positionCount)
		for _, position := range config.Positions {
			payloadIndex := combo % len(config.Payloads)
			payload := config.Payloads[payloadIndex]
			modified = strings.ReplaceAll(modified, marker(position.Name), payload)
			used = append(used, payload)
			combo /= len(config.Payloads)
		}
		out = append(out, GeneratedRequest{Template: modified, Payload: strings.Join(used, ",")})
	}
	return out
}
