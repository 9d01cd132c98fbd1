package vkbackend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/walterhackin/graphics-course/inflight"
)

func TestBytesToBytecode(t *testing.T) {
	code := bytesToBytecode([]byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00})
	assert.Equal(t, []uint32{0x07230203, 0x00010000}, code)

	assert.Empty(t, bytesToBytecode(nil))
}

func TestDescriptorType(t *testing.T) {
	testCases := []struct {
		kind inflight.BindingKind
		want core1_0.DescriptorType
	}{
		{inflight.BindingStorageImage, core1_0.DescriptorTypeStorageImage},
		{inflight.BindingSampledImage, core1_0.DescriptorTypeSampledImage},
		{inflight.BindingSampler, core1_0.DescriptorTypeSampler},
	}

	for _, tc := range testCases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			got, err := descriptorType(tc.kind)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := descriptorType(inflight.BindingKind(42))
	assert.Error(t, err)
}

func TestDescriptorWrite(t *testing.T) {
	set := core1_0.DescriptorSet{}

	write, err := descriptorWrite(set, inflight.Binding{
		Index:  1,
		Kind:   inflight.BindingSampledImage,
		View:   core1_0.ImageView{},
		Layout: core1_0.ImageLayoutShaderReadOnlyOptimal,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, write.DstBinding)
	assert.Equal(t, core1_0.DescriptorTypeSampledImage, write.DescriptorType)
	require.Len(t, write.ImageInfo, 1)
	assert.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, write.ImageInfo[0].ImageLayout)

	write, err = descriptorWrite(set, inflight.Binding{
		Index:   2,
		Kind:    inflight.BindingSampler,
		Sampler: core1_0.Sampler{},
	})
	require.NoError(t, err)
	assert.Equal(t, core1_0.DescriptorTypeSampler, write.DescriptorType)
	assert.Equal(t, core1_0.ImageLayout(0), write.ImageInfo[0].ImageLayout)
}

func TestCompileProgramRejectsInvalidSource(t *testing.T) {
	_, err := CompileProgram("broken", "fn cs_main( {")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile broken")
}
