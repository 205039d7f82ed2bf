// Package domain holds the pure types and rules of the instance lifecycle:
// slug canonicalization, install inputs, confirmation matching and the
// error taxonomy shared by every layer.
//
// Nothing in this package performs I/O.
//
//	slug := domain.Canonicalize(" My Shop! ") // "my-shop"
//	inputs := domain.InstallInputs{BotToken: token}.WithDefaults()
//	if err := inputs.Validate(); err != nil {
//	    // errors.Is(err, domain.ErrInput)
//	}
package domain
