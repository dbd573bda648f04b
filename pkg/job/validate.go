package job

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/netman-network/netman/pkg/inventory"
	"github.com/netman-network/netman/pkg/util"
)

// defaultBatchSize applies when a request leaves batch_size unset.
const defaultBatchSize = 10

var validate = validator.New()

// CreateRequest is the input to Manager.Create.
type CreateRequest struct {
	DeviceIDs      []string       `json:"device_ids" validate:"required,min=1,dive,required"`
	Commands       []string       `json:"commands" validate:"required,min=1"`
	BatchSize      int            `json:"batch_size" validate:"gte=0"`
	DevicesPerHour int            `json:"devices_per_hour" validate:"gte=0"`
	ConnectionMode ConnectionMode `json:"connection_mode" validate:"omitempty,oneof=parallel sequential"`
}

// normalize validates the request against the inventory and returns the
// effective device list, commands, batch size, and mode. Duplicate device
// ids collapse to the first occurrence; duplicate commands are kept.
func (r CreateRequest) normalize(inv *inventory.Inventory) (deviceIDs, commands []string, batchSize int, mode ConnectionMode, err error) {
	if verr := validate.Struct(r); verr != nil {
		var msgs []string
		for _, fe := range verr.(validator.ValidationErrors) {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q constraint", fe.Field(), fe.Tag()))
		}
		return nil, nil, 0, "", util.NewValidationError(msgs...)
	}

	vb := &util.ValidationBuilder{}

	deviceIDs = util.Dedupe(r.DeviceIDs)
	for _, id := range deviceIDs {
		if _, gerr := inv.Get(id); gerr != nil {
			vb.AddError(fmt.Sprintf("unknown device id %q", id))
		}
	}

	for i, cmd := range r.Commands {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			vb.AddError(fmt.Sprintf("command %d is empty", i))
			continue
		}
		commands = append(commands, cmd)
	}

	if err = vb.Err(); err != nil {
		return nil, nil, 0, "", err
	}

	requested := r.BatchSize
	if requested == 0 {
		requested = defaultBatchSize
	}
	batchSize = ClampBatchSize(requested, len(deviceIDs))

	mode = r.ConnectionMode
	if mode == "" {
		mode = ModeParallel
	}
	return deviceIDs, commands, batchSize, mode, nil
}
