package vehicle

import "errors"

var (
	// ErrCantStop 车辆已无法在车道出口停下，不能被转移
	ErrCantStop = errors.New("vehicle is committed to entering its next lane")
	// ErrChainInconsistent 车辆链与调用方给出的前后车不一致
	ErrChainInconsistent = errors.New("vehicle chain is inconsistent")
	// ErrInvalidHandle 句柄已失效
	ErrInvalidHandle = errors.New("invalid vehicle handle")
	// ErrNoSpace 车道上没有足够的空间放置车辆
	ErrNoSpace = errors.New("no space on lane")
)
