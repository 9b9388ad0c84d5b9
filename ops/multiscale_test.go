package ops

import (
	"math/rand"
	"testing"

	"github.com/retina-ml/retina/internal/tensor"
)

func pyramid(t *testing.T, channels int, sizes ...int) []*tensor.RawTensor {
	t.Helper()
	g := rand.New(rand.NewSource(11))
	feats := make([]*tensor.RawTensor, len(sizes))
	for i, s := range sizes {
		feats[i] = tensor.Rand(g, tensor.Shape{1, channels, s, s})
	}
	return feats
}

func TestMultiScaleSetupScales(t *testing.T) {
	m := &MultiScaleRoIAlign{OutputSize: 3, SamplingRatio: 2, ImageSize: [2]int{512, 512}}
	err := m.SetupScales([]tensor.Shape{
		{1, 5, 64, 64},
		{1, 5, 16, 16},
	})
	if err != nil {
		t.Fatal(err)
	}
	if m.scales[0] != 0.125 || m.scales[1] != 0.03125 {
		t.Fatalf("scales = %v, want [0.125 0.03125]", m.scales)
	}
	if m.lvlMin != 3 || m.lvlMax != 4 {
		t.Fatalf("levels = [%d, %d], want [3, 4]", m.lvlMin, m.lvlMax)
	}
}

func TestMultiScaleLevelAssignment(t *testing.T) {
	m := &MultiScaleRoIAlign{OutputSize: 3, SamplingRatio: 2, ImageSize: [2]int{512, 512}}
	if err := m.SetupScales([]tensor.Shape{
		{1, 2, 128, 128},
		{1, 2, 64, 64},
		{1, 2, 32, 32},
	}); err != nil {
		t.Fatal(err)
	}

	// 16x16 maps below the range, 448x448 above; both must clamp inside.
	lvls := m.boxLevels([]float32{
		0, 0, 16, 16,
		0, 0, 64, 64,
		0, 0, 448, 448,
	})
	want := []int{0, 0, 2}
	for i := range want {
		if lvls[i] != want[i] {
			t.Fatalf("levels = %v, want %v", lvls, want)
		}
	}
}

func TestMultiScaleForwardPreservesBoxOrder(t *testing.T) {
	m := &MultiScaleRoIAlign{OutputSize: 2, SamplingRatio: 2, ImageSize: [2]int{256, 256}}
	feats := pyramid(t, 3, 64, 16)

	// Interleave small and large boxes so the levels alternate.
	boxes, err := tensor.FromFloat32([]float32{
		10, 10, 40, 40,
		0, 0, 250, 250,
		60, 60, 90, 90,
		5, 5, 240, 240,
	}, tensor.Shape{4, 4})
	if err != nil {
		t.Fatal(err)
	}

	outs, err := m.Forward(append(append([]*tensor.RawTensor{}, feats...), boxes))
	if err != nil {
		t.Fatal(err)
	}
	out := outs[0]
	if !out.Shape().Equal(tensor.Shape{4, 3, 2, 2}) {
		t.Fatalf("shape = %v, want [4 3 2 2]", out.Shape())
	}

	// Pooling each box alone must reproduce the corresponding batched row.
	grid := 3 * 2 * 2
	ov := out.AsFloat32()
	bv := boxes.AsFloat32()
	for i := 0; i < 4; i++ {
		single, err := tensor.FromFloat32(bv[i*4:i*4+4], tensor.Shape{1, 4})
		if err != nil {
			t.Fatal(err)
		}
		souts, err := m.Forward(append(append([]*tensor.RawTensor{}, feats...), single))
		if err != nil {
			t.Fatal(err)
		}
		sv := souts[0].AsFloat32()
		for j := 0; j < grid; j++ {
			if sv[j] != ov[i*grid+j] {
				t.Fatalf("box %d element %d: batched %v, single %v", i, j, ov[i*grid+j], sv[j])
			}
		}
	}
}

func TestMultiScaleEmitRequiresSetup(t *testing.T) {
	m := &MultiScaleRoIAlign{OutputSize: 2, SamplingRatio: 2, ImageSize: [2]int{256, 256}}
	if _, err := m.Emit(nil, nil); err == nil {
		t.Fatal("expected error before SetupScales")
	}
}
