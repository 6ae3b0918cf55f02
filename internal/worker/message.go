package worker

import (
	"fmt"
	"image"
)

type MessageType string

const (
	MessageInit        MessageType = "INIT"
	MessageReady       MessageType = "READY"
	MessageLoadModel   MessageType = "LOAD_MODEL"
	MessageModelStatus MessageType = "MODEL_STATUS"
	MessageProcess     MessageType = "PROCESS"
	MessageResult      MessageType = "RESULT"
)

// Message is the envelope exchanged between the coordinator and a worker.
// Exactly the payload matching Type is set.
type Message struct {
	Type MessageType
	Slot int

	Init        *InitPayload
	ModelStatus *ModelStatusPayload
	Process     *ProcessPayload
	Result      *ResultPayload
}

type InitPayload struct {
	// LoadModel asks the worker to acquire its model right after initializing.
	LoadModel bool
	// Authoritative marks the load allowed to fetch the model from its origin.
	Authoritative bool
}

type ModelStatusPayload struct {
	Loaded bool
	Error  string
}

// StageInput carries the artifacts a stage consumes. Each stage reads its own fields.
type StageInput struct {
	Original   []byte
	Name       string
	ModelInput *image.NRGBA
	Image      *image.NRGBA
	Mask       *image.Alpha
}

// StageOutput carries the artifacts a stage produces.
type StageOutput struct {
	Preprocessed *image.NRGBA
	ModelInput   *image.NRGBA
	Mask         *image.Alpha
	Result       []byte
}

type ProcessPayload struct {
	JobID string
	Input StageInput
}

type ResultPayload struct {
	JobID  string
	Output StageOutput
	// Error is set when processing failed; Output is then empty.
	Error string
}

func NewInit(slot int, p InitPayload) Message {
	return Message{Type: MessageInit, Slot: slot, Init: &p}
}

func NewReady(slot int) Message {
	return Message{Type: MessageReady, Slot: slot}
}

func NewLoadModel(slot int) Message {
	return Message{Type: MessageLoadModel, Slot: slot}
}

func NewModelStatus(slot int, loaded bool, err error) Message {
	p := &ModelStatusPayload{Loaded: loaded}
	if err != nil {
		p.Error = err.Error()
	}
	return Message{Type: MessageModelStatus, Slot: slot, ModelStatus: p}
}

func NewProcess(slot int, jobID string, input StageInput) Message {
	return Message{Type: MessageProcess, Slot: slot, Process: &ProcessPayload{JobID: jobID, Input: input}}
}

func NewResult(slot int, jobID string, output StageOutput, err error) Message {
	p := &ResultPayload{JobID: jobID}
	if err != nil {
		p.Error = err.Error()
	} else {
		p.Output = output
	}
	return Message{Type: MessageResult, Slot: slot, Result: p}
}

// Validate checks that the payload matches the message type.
func (m Message) Validate() error {
	var ok bool
	switch m.Type {
	case MessageInit:
		ok = m.Init != nil && m.ModelStatus == nil && m.Process == nil && m.Result == nil
	case MessageReady, MessageLoadModel:
		ok = m.Init == nil && m.ModelStatus == nil && m.Process == nil && m.Result == nil
	case MessageModelStatus:
		ok = m.ModelStatus != nil && m.Init == nil && m.Process == nil && m.Result == nil
	case MessageProcess:
		ok = m.Process != nil && m.Process.JobID != "" && m.Init == nil && m.ModelStatus == nil && m.Result == nil
	case MessageResult:
		ok = m.Result != nil && m.Result.JobID != "" && m.Init == nil && m.ModelStatus == nil && m.Process == nil
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	if !ok {
		return fmt.Errorf("malformed %s message", m.Type)
	}
	return nil
}
