// Package diffusion holds the core contracts shared by the sampling
// stack: the Tensor sample buffer, the denoising model interface and its
// evaluation results, noise sources, and the ancestral step split that
// trades deterministic transport for calibrated noise injection.
//
// Everything here is collaborator-facing: samplers consume these types,
// the driver produces them, and external models implement them.
package diffusion
