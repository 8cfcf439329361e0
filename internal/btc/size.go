package btc

// Virtual sizes in vbytes, single-key spends
const (
	txOverheadVSize   = 10
	segwitMarkerVSize = 1
	inputVSizeP2PKH   = 148
	inputVSizeP2WPKH  = 68
	outputVSizeP2PKH  = 34
	outputVSizeP2SH   = 32
	outputVSizeP2WPKH = 31
	outputVSizeP2WSH  = 43
	outputVSizeP2TR   = 43
	DustLimitSats     = 546
)

func inputVSize(inputType string) int64 {
	if inputType == WALLET_TYPE_P2WPKH {
		return inputVSizeP2WPKH
	}
	return inputVSizeP2PKH
}

func outputVSize(outputType string) int64 {
	switch outputType {
	case WALLET_TYPE_P2PKH:
		return outputVSizeP2PKH
	case WALLET_TYPE_P2SH:
		return outputVSizeP2SH
	case WALLET_TYPE_P2WSH:
		return outputVSizeP2WSH
	case WALLET_TYPE_P2TR:
		return outputVSizeP2TR
	default:
		return outputVSizeP2WPKH
	}
}

// TransactionSizeEstimate estimates the vsize of a transaction spending
// inputCount outputs of inputType into the given output types
func TransactionSizeEstimate(inputCount int, inputType string, outputTypes []string) int64 {
	size := int64(txOverheadVSize)
	if inputType == WALLET_TYPE_P2WPKH && inputCount > 0 {
		size += segwitMarkerVSize
	}
	size += int64(inputCount) * inputVSize(inputType)
	for _, t := range outputTypes {
		size += outputVSize(t)
	}
	return size
}
