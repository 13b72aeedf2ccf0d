package kernel

import "keel/keelos/abi"

// configureMPU revokes every slot and maps exactly the regions of task i.
// The image guarantees they fit the unit and do not overlap.
func (k *Kernel) configureMPU(i abi.TaskIndex) {
	if k.mpu == nil {
		return
	}
	k.mpu.Disable()
	for s := 0; s < k.mpu.Slots(); s++ {
		k.mpu.Clear(s)
	}
	for s, r := range k.tasks[i].regions {
		k.mpu.Program(s, r)
	}
	k.mpu.Enable()
}
