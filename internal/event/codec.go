package event

import (
	"encoding/json"
	"fmt"
)

// New returns an empty command of type ct, ready to be decoded into.
func New(ct CommandType) (Command, error) {
	switch ct {
	case CommandTypeInitializeConfig:
		return &InitializeConfig{}, nil
	case CommandTypeUpdateConfig:
		return &UpdateConfig{}, nil
	case CommandTypeTogglePause:
		return &TogglePause{}, nil
	case CommandTypeTransferAuthority:
		return &TransferAuthority{}, nil
	case CommandTypeDeposit:
		return &Deposit{}, nil
	case CommandTypeWithdraw:
		return &Withdraw{}, nil
	case CommandTypeCreateMarket:
		return &CreateMarket{}, nil
	case CommandTypeBuy:
		return &Buy{}, nil
	case CommandTypeSell:
		return &Sell{}, nil
	case CommandTypeResolveMarket:
		return &ResolveMarket{}, nil
	case CommandTypeVoidMarket:
		return &VoidMarket{}, nil
	case CommandTypeReclaimStaleMarket:
		return &ReclaimStaleMarket{}, nil
	case CommandTypeClaimWinnings:
		return &ClaimWinnings{}, nil
	case CommandTypeClaimRefund:
		return &ClaimRefund{}, nil
	case CommandTypeClaimCreatorFee:
		return &ClaimCreatorFee{}, nil
	case CommandTypeClaimTreasuryFee:
		return &ClaimTreasuryFee{}, nil
	case CommandTypeCloseMarket:
		return &CloseMarket{}, nil
	case CommandTypeClosePosition:
		return &ClosePosition{}, nil
	}
	return nil, fmt.Errorf("unknown command type %d", ct)
}

// Decode parses a JSON payload into a typed command.
func Decode(ct CommandType, payload []byte) (Command, error) {
	cmd, err := New(ct)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ct, err)
	}
	return cmd, nil
}

// Locatable is implemented by every command through its embedded Meta.
type Locatable interface {
	Locate(source string, sequence int64)
}

// Stampable is implemented by every command through its embedded Meta. The
// ingestion edge stamps the time a command was received; producers never
// choose the ledger time.
type Stampable interface {
	Stamp(unixSeconds int64)
}
