// Package serialization implements the .born v2 container used for classifier
// parameter snapshots.
//
//	Format Structure:
//	  0x00 [4 bytes: Magic "BORN"]
//	  0x04 [4 bytes: Version (uint32 LE) = 2]
//	  0x08 [4 bytes: Flags (uint32 LE)]
//	  0x0C [4 bytes: reserved]
//	  0x10 [8 bytes: Header Size (uint64 LE)]
//	  0x18 [8 bytes: Data Size (uint64 LE)]
//	  0x20 [32 bytes: SHA-256 of the data section]
//	  0x40 [Header: JSON metadata]
//	       [padding to 64 bytes]
//	       [Tensor data: little-endian, each tensor 64-byte aligned]
//
// Tensors are written in sorted name order, so identical state dicts always
// produce identical data sections.
//
// Example usage:
//
//	err := serialization.WriteFile("model.born", clf.StateDict(), serialization.Header{
//	    ModelType: "Classifier",
//	    Metadata:  map[string]string{"run_id": id},
//	})
//
//	file, err := serialization.ReadFile("model.born")
//	err = clf.LoadStateDict(file.Tensors)
package serialization
