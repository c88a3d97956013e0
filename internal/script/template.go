package script

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

const producerTemplate = `import os
import pathlib

OUTPUT_DIR = os.environ.get("` + EnvOutputDir + `", "` + DefaultOutputDir + `")


def produce():
    # Compute the value to substitute into the post here.
    return "my_string"


def main():
    name = pathlib.Path(__file__).stem
    out = os.environ.get("` + EnvOutput + `") or os.path.join(OUTPUT_DIR, name + ".txt")
    pathlib.Path(out).parent.mkdir(parents=True, exist_ok=True)
    with open(out, "w") as f:
        f.write(str(produce()))


if __name__ == "__main__":
    main()
`

// ErrExists is returned by WriteTemplate when path is already taken.
var ErrExists = errors.New("file already exists")

// WriteTemplate writes a producer skeleton to path. It never overwrites.
func WriteTemplate(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o755)
	if err != nil {
		if os.IsExist(err) {
			return errors.Wrapf(ErrExists, "%s", path)
		}
		return errors.Wrapf(err, "create %s", path)
	}
	if _, err := f.WriteString(producerTemplate); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}
