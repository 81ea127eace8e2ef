// Package pipeline compiles policy groups into ordered, conditional steps
// and runs requests through them.
//
// A step is an Action. It either calls the continuation it is given, which
// runs the next step whose condition holds, or it returns without calling
// it and so ends the pipeline. When every step has passed the request on,
// the fallback handler supplied to Execute serves it.
//
// The Builder knows nothing about concrete actions or conditions. Both are
// looked up through the ActionResolver and ConditionResolver it is given.
package pipeline
