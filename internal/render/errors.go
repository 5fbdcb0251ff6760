package render

import "fmt"

// SyntaxError reports a malformed template: unbalanced delimiters or a body
// the parser rejects. The template never executed.
type SyntaxError struct {
	Detail string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("template syntax error: %s", e.Detail)
}

// UndefinedReferenceError reports a context path the template referenced that
// does not exist in the render context.
type UndefinedReferenceError struct {
	Path string
}

func (e *UndefinedReferenceError) Error() string {
	return fmt.Sprintf("undefined reference: %s", e.Path)
}

// RuntimeError reports a failure during template execution that is neither a
// syntax problem nor a missing reference, such as a type mismatch inside an
// operation.
type RuntimeError struct {
	Detail string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("template runtime error: %s", e.Detail)
}
