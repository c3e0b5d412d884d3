// Package objstore is the canonical object store consulted by the
// identifier index and the field search engine.
//
// An object is an XML document carrying the object's pid, a few
// properties, and its datastreams:
//
//	<object pid="demo:1" label="Demo" state="A" ownerId="admin">
//	  <datastream id="DC" control="X">
//	    <oai_dc:dc xmlns:oai_dc="http://www.openarchives.org/OAI/2.0/oai_dc/"
//	               xmlns:dc="http://purl.org/dc/elements/1.1/">
//	      <dc:identifier>oai:123</dc:identifier>
//	    </oai_dc:dc>
//	  </datastream>
//	</object>
//
// The DC datastream is the identifier-bearing descriptor. Control group
// "X" means inline XML; any other control group means the content lives
// elsewhere, and reading identifiers from such an object is an integrity
// failure.
package objstore
