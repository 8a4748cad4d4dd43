//go:build windows

package device

// workgroupSize is the number of invocations per workgroup.
const workgroupSize = 256

// maxWorkgroupsPerDim is the WebGPU limit on one dispatch dimension.
// Larger ranges spill into the y dimension; params.row is the number of
// invocations per y row.
const maxWorkgroupsPerDim = 65535

// addBiasF32Shader computes result = a + b + bias.
const addBiasF32Shader = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
    row: u32,
    bias: f32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.y * params.row + global_id.x;
    if (idx < params.size) {
        result[idx] = a[idx] + b[idx] + params.bias;
    }
}
`

// addBiasI32Shader computes result = i32(f32(a + b) + bias), truncating toward zero.
const addBiasI32Shader = `
@group(0) @binding(0) var<storage, read> a: array<i32>;
@group(0) @binding(1) var<storage, read> b: array<i32>;
@group(0) @binding(2) var<storage, read_write> result: array<i32>;

struct Params {
    size: u32,
    row: u32,
    bias: f32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.y * params.row + global_id.x;
    if (idx < params.size) {
        result[idx] = i32(f32(a[idx] + b[idx]) + params.bias);
    }
}
`

// copy2U32Shader writes the upstream gradient into both gradient outputs.
// It moves 32-bit words, so it serves every element type including float64.
const copy2U32Shader = `
@group(0) @binding(0) var<storage, read> grad: array<u32>;
@group(0) @binding(1) var<storage, read_write> grad_a: array<u32>;
@group(0) @binding(2) var<storage, read_write> grad_b: array<u32>;

struct Params {
    size: u32,
    row: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.y * params.row + global_id.x;
    if (idx < params.size) {
        let g = grad[idx];
        grad_a[idx] = g;
        grad_b[idx] = g;
    }
}
`
