package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	controlTypeRegister    = "rank.register"
	controlTypeRegisterAck = "rank.register.ack"

	AckStatusAccepted = "accepted"
	AckStatusRejected = "rejected"

	maxControlLine = 16 * 1024
)

var (
	ErrInvalidRegistration    = errors.New("session: invalid registration")
	ErrInvalidRegistrationAck = errors.New("session: invalid registration ack")
	ErrRegistrationRejected   = errors.New("session: registration rejected")
	ErrControlMessageTooLarge = errors.New("session: control message too large")
)

// Registration is the dialing rank's connection-start payload.
type Registration struct {
	ClusterID string `json:"cluster_id"`
	Rank      int    `json:"rank"`
	Size      int    `json:"size"`
}

func (r Registration) Validate() error {
	if strings.TrimSpace(r.ClusterID) == "" {
		return fmt.Errorf("%w: missing cluster_id", ErrInvalidRegistration)
	}
	if r.Size <= 0 {
		return fmt.Errorf("%w: size %d", ErrInvalidRegistration, r.Size)
	}
	if r.Rank < 0 || r.Rank >= r.Size {
		return fmt.Errorf("%w: rank %d outside [0,%d)", ErrInvalidRegistration, r.Rank, r.Size)
	}
	return nil
}

// RegistrationAck is the accepting rank's response.
type RegistrationAck struct {
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	Rank        int    `json:"rank"`
	TimestampMS uint64 `json:"timestamp_ms"`
}

func (a RegistrationAck) Validate() error {
	status := strings.TrimSpace(a.Status)
	if status != AckStatusAccepted && status != AckStatusRejected {
		return fmt.Errorf("%w: invalid status", ErrInvalidRegistrationAck)
	}
	if a.Rank < 0 {
		return fmt.Errorf("%w: rank %d", ErrInvalidRegistrationAck, a.Rank)
	}
	if a.TimestampMS == 0 {
		return fmt.Errorf("%w: missing timestamp_ms", ErrInvalidRegistrationAck)
	}
	return nil
}

// Err converts a rejected ack into ErrRegistrationRejected.
func (a RegistrationAck) Err() error {
	if a.Status == AckStatusAccepted {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRegistrationRejected, a.Message)
}

type controlEnvelope struct {
	Type string           `json:"type"`
	Reg  *Registration    `json:"registration,omitempty"`
	Ack  *RegistrationAck `json:"registration_ack,omitempty"`
}

func WriteRegistration(w io.Writer, reg Registration) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	return writeControlEnvelope(w, controlEnvelope{
		Type: controlTypeRegister,
		Reg:  &reg,
	})
}

func ReadRegistration(r *bufio.Reader) (Registration, error) {
	env, err := readControlEnvelope(r)
	if err != nil {
		return Registration{}, err
	}
	if env.Type != controlTypeRegister || env.Reg == nil {
		return Registration{}, fmt.Errorf("%w: unexpected control type", ErrInvalidRegistration)
	}
	if err := env.Reg.Validate(); err != nil {
		return Registration{}, err
	}
	return *env.Reg, nil
}

func WriteRegistrationAck(w io.Writer, ack RegistrationAck) error {
	if err := ack.Validate(); err != nil {
		return err
	}
	return writeControlEnvelope(w, controlEnvelope{
		Type: controlTypeRegisterAck,
		Ack:  &ack,
	})
}

func ReadRegistrationAck(r *bufio.Reader) (RegistrationAck, error) {
	env, err := readControlEnvelope(r)
	if err != nil {
		return RegistrationAck{}, err
	}
	if env.Type != controlTypeRegisterAck || env.Ack == nil {
		return RegistrationAck{}, fmt.Errorf("%w: unexpected control type", ErrInvalidRegistrationAck)
	}
	if err := env.Ack.Validate(); err != nil {
		return RegistrationAck{}, err
	}
	return *env.Ack, nil
}

func writeControlEnvelope(w io.Writer, env controlEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_, err = w.Write(payload)
	return err
}

func readControlEnvelope(r *bufio.Reader) (controlEnvelope, error) {
	line, err := r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) || len(line) > maxControlLine {
		return controlEnvelope{}, ErrControlMessageTooLarge
	}
	if err != nil {
		return controlEnvelope{}, err
	}
	var env controlEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return controlEnvelope{}, err
	}
	return env, nil
}
